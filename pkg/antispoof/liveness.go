package antispoof

import "math"

// Liveness deductions and decision cutoff
const (
	NoBackgroundNoisePenalty = 0.3
	UnnaturalSpeechPenalty   = 0.4
	NoMicroVariationPenalty  = 0.3
	LivenessThreshold        = 0.6

	speechWindow         = 100
	microVariationWindow = 50
	microVariationHalf   = microVariationWindow / 2
)

// Liveness indicator descriptions
const (
	IndicatorBackgroundNoise   = "Natural background noise detected"
	IndicatorCleanAudio        = "Suspiciously clean audio"
	IndicatorNaturalSpeech     = "Natural speech patterns found"
	IndicatorUnnaturalSpeech   = "Unnatural speech patterns"
	IndicatorMicroVariations   = "Natural voice variations detected"
	IndicatorNoMicroVariations = "Lack of natural voice variations"
)

// LivenessAssessment is the result of ScoreLiveness
type LivenessAssessment struct {
	IsLive     bool     `json:"isLive"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators"`
}

// ScoreLiveness starts from 1.0 and deducts a fixed penalty for each missing
// sign of a live recording. The sample is live when the remaining score
// exceeds LivenessThreshold.
func ScoreLiveness(samples []float32) LivenessAssessment {
	indicators := make([]string, 0, 3)
	score := 1.0

	if hasBackgroundNoise(samples) {
		indicators = append(indicators, IndicatorBackgroundNoise)
	} else {
		indicators = append(indicators, IndicatorCleanAudio)
		score -= NoBackgroundNoisePenalty
	}

	if hasNaturalSpeechPatterns(samples) {
		indicators = append(indicators, IndicatorNaturalSpeech)
	} else {
		indicators = append(indicators, IndicatorUnnaturalSpeech)
		score -= UnnaturalSpeechPenalty
	}

	if hasMicroVariations(samples) {
		indicators = append(indicators, IndicatorMicroVariations)
	} else {
		indicators = append(indicators, IndicatorNoMicroVariations)
		score -= NoMicroVariationPenalty
	}

	return LivenessAssessment{
		IsLive:     score > LivenessThreshold,
		Confidence: math.Max(0, score),
		Indicators: indicators,
	}
}

// hasBackgroundNoise: more than 10% of samples sit in the low noise band
func hasBackgroundNoise(samples []float32) bool {
	if len(samples) == 0 {
		return false
	}

	noise := 0
	for _, s := range samples {
		a := math.Abs(float64(s))
		if a < 0.05 && a > 0.001 {
			noise++
		}
	}

	return float64(noise)/float64(len(samples)) > 0.1
}

// hasNaturalSpeechPatterns requires both pauses and emphasis across the
// 100-sample windows
func hasNaturalSpeechPatterns(samples []float32) bool {
	pauses, emphasis := 0, 0

	for i := 0; i < len(samples)-speechWindow; i += speechWindow {
		avg := meanAbs(samples[i:i+speechWindow])
		if avg < 0.05 {
			pauses++
		}
		if avg > 0.7 {
			emphasis++
		}
	}

	return pauses > 2 && emphasis > 1
}

// hasMicroVariations counts adjacent 25-sample halves whose average
// amplitude differs by a small but nonzero amount
func hasMicroVariations(samples []float32) bool {
	variations := 0

	for i := 0; i < len(samples)-microVariationWindow; i += microVariationWindow {
		first := meanAbs(samples[i : i+microVariationHalf])
		second := meanAbs(samples[i+microVariationHalf : i+microVariationWindow])

		diff := math.Abs(first - second)
		if diff > 0.01 && diff < 0.3 {
			variations++
		}
	}

	return float64(variations) > float64(len(samples))/200
}

func meanAbs(segment []float32) float64 {
	sum := 0.0
	for _, s := range segment {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(segment))
}
