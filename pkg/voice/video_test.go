package voice

import (
	"bytes"
	"testing"
)

func TestExtractJPEG(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}
	tail := []byte{0xFF, 0xD8, 0xAA}

	data := append([]byte{0x00, 0x11}, payload...)
	data = append(data, tail...)

	frame, rest, ok := extractJPEG(data)
	if !ok {
		t.Fatal("complete frame not found")
	}
	if !bytes.Equal(frame, payload) {
		t.Errorf("frame = % X, want % X", frame, payload)
	}
	if !bytes.Equal(rest, tail) {
		t.Errorf("rest = % X, want % X", rest, tail)
	}
}

func TestExtractJPEGIncomplete(t *testing.T) {
	if _, _, ok := extractJPEG([]byte{0xFF, 0xD8, 0x01, 0x02}); ok {
		t.Error("frame without a terminator reported as complete")
	}
	if _, _, ok := extractJPEG([]byte{0x01, 0x02, 0x03}); ok {
		t.Error("data without a start marker reported as complete")
	}
	if _, _, ok := extractJPEG(nil); ok {
		t.Error("empty data reported as complete")
	}
}

func TestVideoFFmpegArgs(t *testing.T) {
	if _, err := videoFFmpegArgs("windows", VideoCamera); err == nil {
		t.Error("expected an error for an unsupported platform")
	}
	args, err := videoFFmpegArgs("linux", VideoCamera)
	if err != nil {
		t.Fatalf("camera args: %v", err)
	}
	found := false
	for _, a := range args {
		if a == "mjpeg" {
			found = true
		}
	}
	if !found {
		t.Errorf("camera args %v do not request mjpeg output", args)
	}
}
