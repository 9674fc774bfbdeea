package audio

import (
	"math"
	"testing"
	"time"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	in := []float64{0, 0.25, -0.25, 0.5, -0.5, 0.999, -0.999, 1.0, -1.0}
	encoded := EncodePCM16(in)
	if len(encoded) != len(in)*2 {
		t.Fatalf("encoded length %d, want %d", len(encoded), len(in)*2)
	}
	decoded, err := DecodePCM16(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		// One 16-bit quantization step either way.
		if math.Abs(decoded[i]-in[i]) > 1.0/32767.0 {
			t.Errorf("sample %d: got %.6f, want %.6f", i, decoded[i], in[i])
		}
	}
}

func TestEncodeClampsOutOfRange(t *testing.T) {
	encoded := EncodePCM16([]float64{2.0, -2.0})
	decoded, err := DecodePCM16(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded[0] < 0.99 || decoded[0] > 1.0 {
		t.Errorf("positive overflow clamped to %.4f", decoded[0])
	}
	if decoded[1] > -0.99 || decoded[1] < -1.0 {
		t.Errorf("negative overflow clamped to %.4f", decoded[1])
	}
}

func TestDecodeRejectsOddLength(t *testing.T) {
	if _, err := DecodePCM16([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatal("expected format error for odd-length payload")
	}
	var fe *FormatError
	_, err := DecodePCM16([]byte{0x01})
	if fe, _ = err.(*FormatError); fe == nil {
		t.Fatalf("expected *FormatError, got %T", err)
	}
}

func TestBufferDuration(t *testing.T) {
	pcm := make([]byte, 24000*2) // 1s at 24kHz mono
	buf, err := BufferFromPCM16(pcm, 24000)
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	if buf.Duration() != time.Second {
		t.Errorf("duration %v, want 1s", buf.Duration())
	}
}

func TestRMSEnergy(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{name: "silence", samples: []int16{0, 0, 0, 0}, expected: 0.0},
		{name: "max amplitude", samples: []int16{32767, 32767, 32767, 32767}, expected: 1.0},
		{name: "half amplitude", samples: []int16{16384, 16384, 16384, 16384}, expected: 0.5},
		{name: "mixed signal", samples: []int16{16384, -16384, 16384, -16384}, expected: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, len(tt.samples)*2)
			for i, s := range tt.samples {
				pcm[i*2] = byte(s & 0xFF)
				pcm[i*2+1] = byte((s >> 8) & 0xFF)
			}
			result := RMSEnergy(pcm)
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected RMS %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestFormatByteMath(t *testing.T) {
	f := PlaybackFormat()
	if f.BytesPerSecond() != 48000 {
		t.Fatalf("bytes/s = %d, want 48000", f.BytesPerSecond())
	}
	if got := f.Duration(48000); got != time.Second {
		t.Errorf("Duration(48000) = %v, want 1s", got)
	}
	if got := f.BytesFor(500 * time.Millisecond); got != 24000 {
		t.Errorf("BytesFor(500ms) = %d, want 24000", got)
	}
	cf := CaptureFormat()
	if got := cf.Duration(1024); got != 32*time.Millisecond {
		t.Errorf("capture block duration = %v, want 32ms", got)
	}
}
