package audio

import (
	"fmt"
	"math"
	"time"
)

// FormatError reports a malformed PCM payload.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("audio format error: %s", e.Reason)
}

// EncodePCM16 converts normalized samples in [-1, 1] to signed 16-bit
// little-endian PCM. Out-of-range samples are clamped.
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s := int16(v * 32767.0)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// DecodePCM16 converts signed 16-bit little-endian PCM back to normalized
// samples in [-1, 1]. The byte length must be a multiple of the sample width.
func DecodePCM16(data []byte) ([]float64, error) {
	if len(data)%2 != 0 {
		return nil, &FormatError{Reason: fmt.Sprintf("pcm length %d is not a multiple of 2", len(data))}
	}
	out := make([]float64, len(data)/2)
	for i := 0; i < len(data); i += 2 {
		sample := int16(data[i]) | int16(data[i+1])<<8
		out[i/2] = float64(sample) / 32768.0
	}
	return out, nil
}

// Buffer is a decoded, playable audio buffer tagged with its sample rate.
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// BufferFromPCM16 decodes wire-format PCM into a playable buffer.
func BufferFromPCM16(data []byte, sampleRate int) (*Buffer, error) {
	samples, err := DecodePCM16(data)
	if err != nil {
		return nil, err
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// Duration returns sampleCount / sampleRate.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// PCM16 re-encodes the buffer to wire format.
func (b *Buffer) PCM16() []byte {
	if b == nil {
		return nil
	}
	return EncodePCM16(b.Samples)
}

// RMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute amplitude in the PCM data.
// Returns a value between 0.0 and 1.0.
func PeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Use float64 to avoid overflow when negating -32768
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs / 32768.0
}
