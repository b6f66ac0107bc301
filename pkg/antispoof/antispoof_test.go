package antispoof

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantSignal(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// liveSignal builds 20 windows of 100 samples: five pauses, five emphasized
// windows and ten mid-level windows, each split into 25-sample halves with a
// small amplitude step between them.
func liveSignal(quietPauses bool) []float32 {
	s := make([]float32, 0, 2000)
	half := func(a, b float32) {
		for i := 0; i < 25; i++ {
			s = append(s, a)
		}
		for i := 0; i < 25; i++ {
			s = append(s, b)
		}
	}
	for w := 0; w < 20; w++ {
		for p := 0; p < 2; p++ {
			switch {
			case w < 5 && quietPauses:
				half(0, 0)
			case w < 5:
				half(0.02, 0.04)
			case w < 10:
				half(0.8, 0.9)
			default:
				half(0.3, 0.4)
			}
		}
	}
	return s
}

func TestScoreDeepfake_AllZeroSignal(t *testing.T) {
	result := ScoreDeepfake(constantSignal(4096, 0), 1024)

	assert.True(t, result.IsDeepfake)
	assert.InDelta(t, 0.75, result.Confidence, 1e-9)
	assert.Equal(t, []string{IndicatorFrequency, IndicatorCompression, IndicatorSpectral}, result.Indicators)
}

func TestScoreDeepfake_ExactlyHalfIsNotDeepfake(t *testing.T) {
	// constant 0.05 is near silent and uniform but has plausible energy
	result := ScoreDeepfake(constantSignal(10240, 0.05), 1024)

	assert.InDelta(t, 0.5, result.Confidence, 1e-9)
	assert.False(t, result.IsDeepfake)
	assert.Equal(t, []string{IndicatorFrequency, IndicatorCompression}, result.Indicators)
}

func TestScoreDeepfake_SpectralIndicatorTipsOverThreshold(t *testing.T) {
	samples := constantSignal(10240, 0.05)
	// zero three of the ten 1024-sample windows: 3/10 > 0.2
	for i := 0; i < 3*1024; i++ {
		samples[i] = 0
	}

	result := ScoreDeepfake(samples, 1024)

	assert.True(t, result.IsDeepfake)
	assert.InDelta(t, 0.75, result.Confidence, 1e-9)
	assert.Contains(t, result.Indicators, IndicatorSpectral)
}

func TestScoreDeepfake_TwoZeroWindowsStayBelowSpectralCutoff(t *testing.T) {
	samples := constantSignal(10240, 0.05)
	for i := 0; i < 2*1024; i++ {
		samples[i] = 0
	}

	result := ScoreDeepfake(samples, 1024)

	assert.False(t, result.IsDeepfake)
	assert.NotContains(t, result.Indicators, IndicatorSpectral)
}

func TestScoreDeepfake_AlternatingSpikes(t *testing.T) {
	samples := make([]float32, 2048)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.9
		} else {
			samples[i] = -0.9
		}
	}

	result := ScoreDeepfake(samples, 1024)

	assert.Contains(t, result.Indicators, IndicatorFrequency)
	assert.Contains(t, result.Indicators, IndicatorTemporal)
	assert.NotContains(t, result.Indicators, IndicatorCompression)
	// one window of 1024 samples at 0.81 energy each is far above 100
	assert.Contains(t, result.Indicators, IndicatorSpectral)
	assert.True(t, result.IsDeepfake)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
}

func TestScoreDeepfake_DefaultWindow(t *testing.T) {
	samples := constantSignal(4096, 0)
	assert.Equal(t, ScoreDeepfake(samples, 1024), ScoreDeepfake(samples, 0))
}

func TestScoreDeepfake_EmptyAndShortInputDoNotPanic(t *testing.T) {
	empty := ScoreDeepfake(nil, 1024)
	assert.False(t, empty.IsDeepfake)
	assert.Equal(t, 0.0, empty.Confidence)
	assert.Empty(t, empty.Indicators)

	short := ScoreDeepfake(constantSignal(5, 0), 1024)
	assert.NotContains(t, short.Indicators, IndicatorSpectral)
	assert.False(t, math.IsNaN(short.Confidence))
}

func TestScoreDeepfake_ConfidenceBounded(t *testing.T) {
	inputs := [][]float32{nil, constantSignal(4096, 0), constantSignal(4096, 1), liveSignal(false)}
	for _, in := range inputs {
		r := ScoreDeepfake(in, 1024)
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
	}
}

func TestScoreLiveness_AllZeroSignalScoresZero(t *testing.T) {
	result := ScoreLiveness(constantSignal(4096, 0))

	assert.False(t, result.IsLive)
	assert.InDelta(t, 0.0, result.Confidence, 1e-9)
	assert.Equal(t, []string{IndicatorCleanAudio, IndicatorUnnaturalSpeech, IndicatorNoMicroVariations}, result.Indicators)
}

func TestScoreLiveness_NaturalSignal(t *testing.T) {
	result := ScoreLiveness(liveSignal(false))

	assert.True(t, result.IsLive)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
	assert.Equal(t, []string{IndicatorBackgroundNoise, IndicatorNaturalSpeech, IndicatorMicroVariations}, result.Indicators)
}

func TestScoreLiveness_CleanAudioAloneStillLive(t *testing.T) {
	result := ScoreLiveness(liveSignal(true))

	assert.True(t, result.IsLive)
	assert.InDelta(t, 0.7, result.Confidence, 1e-9)
	assert.Contains(t, result.Indicators, IndicatorCleanAudio)
}

func TestScoreLiveness_PausesWithoutEmphasisAreUnnatural(t *testing.T) {
	samples := liveSignal(false)
	// flatten the emphasized windows to mid level
	for i := 500; i < 1000; i++ {
		samples[i] = 0.3
	}

	assert.False(t, hasNaturalSpeechPatterns(samples))
}

func TestScoreLiveness_EmptyInput(t *testing.T) {
	result := ScoreLiveness(nil)

	assert.False(t, result.IsLive)
	assert.Len(t, result.Indicators, 3)
	assert.GreaterOrEqual(t, result.Confidence, 0.0)
}

func TestDecodeFloat32LE_RoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.25, 1}
	out, err := DecodeFloat32LE(EncodeFloat32LE(in))

	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeFloat32LE_Errors(t *testing.T) {
	_, err := DecodeFloat32LE(nil)
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = DecodeFloat32LE([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMisalignedAudio)

	_, err = DecodeFloat32LE(EncodeFloat32LE([]float32{0.1, float32(math.NaN())}))
	assert.ErrorIs(t, err, ErrNonFiniteSample)
}

func TestEnvelopeSimilarity(t *testing.T) {
	live := liveSignal(true)

	assert.InDelta(t, 1.0, EnvelopeSimilarity(live, live), 1e-9)

	reversed := make([]float32, len(live))
	for i, v := range live {
		reversed[len(live)-1-i] = v
	}
	assert.Less(t, EnvelopeSimilarity(live, reversed), 0.8)

	assert.Equal(t, 0.0, EnvelopeSimilarity(live, constantSignal(len(live), 0.5)))
	assert.Equal(t, 0.0, EnvelopeSimilarity(live, constantSignal(EnvelopeBins-1, 0.5)))
	assert.Nil(t, Envelope(nil))
}
