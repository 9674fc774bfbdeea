package voice

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/voxline/voxline/pkg/audio"
)

// BlockSamples is the fixed capture block size. 512 samples at 16 kHz is
// a 32 ms chunk.
const BlockSamples = 512

// Capture owns the microphone source and emits one encoded chunk per
// fixed-size block on the source's cadence, along with a running RMS
// volume value for UI feedback. Both callbacks are fire-and-forget;
// backpressure is not modeled.
type Capture struct {
	source   io.ReadCloser
	format   audio.Format
	onChunk  func([]byte)
	onVolume func(float64)

	stopOnce sync.Once
	done     chan struct{}
}

// NewCapture wraps an already-acquired source. The source must deliver
// PCM16LE at the capture format's sample rate.
func NewCapture(source io.ReadCloser, onChunk func([]byte), onVolume func(float64)) *Capture {
	return &Capture{
		source:   source,
		format:   audio.CaptureFormat(),
		onChunk:  onChunk,
		onVolume: onVolume,
		done:     make(chan struct{}),
	}
}

// Start begins the block read loop. It must only be called after the
// source was acquired successfully.
func (c *Capture) Start() {
	go c.readLoop()
}

func (c *Capture) readLoop() {
	defer close(c.done)

	blockBytes := BlockSamples * c.format.Channels * (c.format.BitsPerSample / 8)
	block := make([]byte, blockBytes)
	for {
		if _, err := io.ReadFull(c.source, block); err != nil {
			return
		}
		chunk := make([]byte, len(block))
		copy(chunk, block)
		if c.onVolume != nil {
			c.onVolume(audio.RMSEnergy(chunk))
		}
		if c.onChunk != nil {
			c.onChunk(chunk)
		}
	}
}

// Stop releases the source and waits for the read loop to exit.
// Idempotent; safe regardless of whether teardown came from user action
// or an error path.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		_ = c.source.Close()
	})
	<-c.done
}

// micSource is an ffmpeg subprocess capturing the default microphone as
// mono PCM16LE at the capture sample rate.
type micSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// OpenMic acquires the microphone. cmdOverride, when non-empty, runs via
// the shell instead of the platform default ffmpeg invocation and must
// write s16le/16kHz/mono to stdout.
func OpenMic(cmdOverride string) (io.ReadCloser, error) {
	var cmd *exec.Cmd
	if override := strings.TrimSpace(cmdOverride); override != "" {
		cmd = exec.Command("/bin/sh", "-lc", override)
	} else {
		if _, err := exec.LookPath("ffmpeg"); err != nil {
			return nil, errors.New("ffmpeg is required for mic capture (install ffmpeg and ensure it is in PATH)")
		}
		args, err := micFFmpegArgs(runtime.GOOS)
		if err != nil {
			return nil, err
		}
		cmd = exec.Command("ffmpeg", args...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open mic stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mic capture: %w", err)
	}
	return &micSource{cmd: cmd, stdout: stdout}, nil
}

func micFFmpegArgs(goos string) ([]string, error) {
	rate := fmt.Sprintf("%d", audio.CaptureFormat().SampleRate)
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", rate,
			"-f", "s16le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", rate,
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("mic capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

func (m *micSource) Read(p []byte) (int, error) {
	if m == nil || m.stdout == nil {
		return 0, io.EOF
	}
	return m.stdout.Read(p)
}

func (m *micSource) Close() error {
	if m == nil {
		return nil
	}
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	return nil
}
