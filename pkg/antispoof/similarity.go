package antispoof

import "math"

// EnvelopeBins is the number of amplitude envelope points compared by
// EnvelopeSimilarity
const EnvelopeBins = 32

// Envelope reduces samples to EnvelopeBins mean absolute amplitudes taken
// over equal slices of the input. It returns nil for inputs shorter than
// EnvelopeBins.
func Envelope(samples []float32) []float64 {
	n := len(samples)
	if n < EnvelopeBins {
		return nil
	}

	env := make([]float64, EnvelopeBins)
	for i := range env {
		env[i] = meanAbs(samples[i*n/EnvelopeBins : (i+1)*n/EnvelopeBins])
	}
	return env
}

// EnvelopeSimilarity is the Pearson correlation of the two amplitude
// envelopes clamped to [0, 1]. Identical recordings score 1; flat or too
// short inputs score 0.
func EnvelopeSimilarity(a, b []float32) float64 {
	ea, eb := Envelope(a), Envelope(b)
	if ea == nil || eb == nil {
		return 0
	}

	ma, mb := mean(ea), mean(eb)
	var cov, va, vb float64
	for i := range ea {
		da, db := ea[i]-ma, eb[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}

	r := cov / math.Sqrt(va*vb)
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

func mean(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
