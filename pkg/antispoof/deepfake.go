package antispoof

import "math"

// Deepfake indicator weights and decision cutoff
const (
	FrequencyWeight   = 0.30
	TemporalWeight    = 0.25
	CompressionWeight = 0.20
	SpectralWeight    = 0.25

	DeepfakeThreshold = 0.5

	// DefaultSpectralWindow is the energy window size used when none is given
	DefaultSpectralWindow = 1024

	compressionWindow = 10
)

// Deepfake indicator descriptions
const (
	IndicatorFrequency   = "Unnatural frequency patterns detected"
	IndicatorTemporal    = "Temporal inconsistencies found"
	IndicatorCompression = "Suspicious compression artifacts"
	IndicatorSpectral    = "Spectral anomalies detected"
)

// DeepfakeAssessment is the result of ScoreDeepfake
type DeepfakeAssessment struct {
	IsDeepfake bool     `json:"isDeepfake"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators"`
}

// ScoreDeepfake sums the weights of the triggered indicators into a
// suspicion score. The sample is flagged when the score exceeds
// DeepfakeThreshold. spectralWindow <= 0 selects DefaultSpectralWindow.
func ScoreDeepfake(samples []float32, spectralWindow int) DeepfakeAssessment {
	if spectralWindow <= 0 {
		spectralWindow = DefaultSpectralWindow
	}

	indicators := make([]string, 0, 4)
	score := 0.0

	if frequencyIrregular(samples) {
		indicators = append(indicators, IndicatorFrequency)
		score += FrequencyWeight
	}
	if temporallyDiscontinuous(samples) {
		indicators = append(indicators, IndicatorTemporal)
		score += TemporalWeight
	}
	if compressionUniform(samples) {
		indicators = append(indicators, IndicatorCompression)
		score += CompressionWeight
	}
	if spectrallyAnomalous(samples, spectralWindow) {
		indicators = append(indicators, IndicatorSpectral)
		score += SpectralWeight
	}

	return DeepfakeAssessment{
		IsDeepfake: score > DeepfakeThreshold,
		Confidence: math.Min(score, 1.0),
		Indicators: indicators,
	}
}

// frequencyIrregular: too many clipped peaks or too much near-silence
func frequencyIrregular(samples []float32) bool {
	if len(samples) == 0 {
		return false
	}

	high, low := 0, 0
	for _, s := range samples {
		a := math.Abs(float64(s))
		if a > 0.8 {
			high++
		}
		if a < 0.1 {
			low++
		}
	}

	n := float64(len(samples))
	return float64(high)/n > 0.1 || float64(low)/n > 0.7
}

// temporallyDiscontinuous: frequent large jumps between adjacent samples
func temporallyDiscontinuous(samples []float32) bool {
	if len(samples) == 0 {
		return false
	}

	changes := 0
	for i := 1; i < len(samples); i++ {
		if math.Abs(float64(samples[i])-float64(samples[i-1])) > 0.5 {
			changes++
		}
	}

	return float64(changes)/float64(len(samples)) > 0.05
}

// compressionUniform: too many 10-sample windows with almost no variance
func compressionUniform(samples []float32) bool {
	if len(samples) == 0 {
		return false
	}

	artifacts := 0
	for i := 0; i < len(samples)-compressionWindow; i += compressionWindow {
		if variance(samples[i:i+compressionWindow]) < 0.001 {
			artifacts++
		}
	}

	ratio := float64(artifacts) / (float64(len(samples)) / compressionWindow)
	return ratio > 0.3
}

// spectrallyAnomalous: too many windows whose total energy is implausibly
// low or high
func spectrallyAnomalous(samples []float32, window int) bool {
	windows := len(samples) / window
	if windows == 0 {
		return false
	}

	anomalies := 0
	for i := 0; i < len(samples)-window; i += window {
		energy := 0.0
		for _, s := range samples[i : i+window] {
			energy += float64(s) * float64(s)
		}
		if energy < 0.001 || energy > 100 {
			anomalies++
		}
	}

	return float64(anomalies)/float64(windows) > 0.2
}

func variance(segment []float32) float64 {
	if len(segment) == 0 {
		return 0
	}

	mean := 0.0
	for _, s := range segment {
		mean += float64(s)
	}
	mean /= float64(len(segment))

	v := 0.0
	for _, s := range segment {
		d := float64(s) - mean
		v += d * d
	}
	return v / float64(len(segment))
}
