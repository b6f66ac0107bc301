package antispoof

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyAudio is returned when there are no samples to decode
	ErrEmptyAudio = errors.New("audio payload is empty")
	// ErrMisalignedAudio is returned when the payload is not a whole number of float32 samples
	ErrMisalignedAudio = errors.New("audio payload length is not a multiple of 4")
	// ErrNonFiniteSample is returned for NaN or infinite amplitudes
	ErrNonFiniteSample = errors.New("audio payload contains a non-finite sample")
)

// DecodeFloat32LE decodes raw little-endian IEEE 754 float32 PCM
func DecodeFloat32LE(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(data)%4 != 0 {
		return nil, ErrMisalignedAudio
	}

	samples := make([]float32, len(data)/4)
	for i := range samples {
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("sample %d: %w", i, ErrNonFiniteSample)
		}
		samples[i] = v
	}

	return samples, nil
}

// EncodeFloat32LE is the inverse of DecodeFloat32LE
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
