package voice

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
)

// VideoMode selects the optional secondary video modality.
type VideoMode string

const (
	VideoOff    VideoMode = "off"
	VideoCamera VideoMode = "camera"
	VideoScreen VideoMode = "screen"
)

const videoFPS = 5

var jpegSOI = []byte{0xFF, 0xD8}
var jpegEOI = []byte{0xFF, 0xD9}

// VideoGrabber captures downscaled camera or screen frames as JPEG at
// roughly five frames per second and hands each to OnFrame. Frames are a
// best-effort side channel: a dropped frame is never resent and grabber
// failure is non-fatal to the session.
type VideoGrabber struct {
	mode    VideoMode
	onFrame func(jpeg []byte)

	cmd      *exec.Cmd
	stdout   io.ReadCloser
	stopOnce sync.Once
	done     chan struct{}
}

// OpenVideo starts an ffmpeg MJPEG capture for the given mode.
func OpenVideo(mode VideoMode, onFrame func([]byte)) (*VideoGrabber, error) {
	if mode == VideoOff || mode == "" {
		return nil, errors.New("video mode is off")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for video capture")
	}
	args, err := videoFFmpegArgs(runtime.GOOS, mode)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open video stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start video capture: %w", err)
	}

	g := &VideoGrabber{
		mode:    mode,
		onFrame: onFrame,
		cmd:     cmd,
		stdout:  stdout,
		done:    make(chan struct{}),
	}
	go g.readLoop()
	return g, nil
}

func videoFFmpegArgs(goos string, mode VideoMode) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		device := "0" // default camera
		if mode == VideoScreen {
			device = "1" // first screen capture device
		}
		input = []string{"-f", "avfoundation", "-framerate", "30", "-i", device}
	case "linux":
		if mode == VideoScreen {
			input = []string{"-f", "x11grab", "-i", ":0.0"}
		} else {
			input = []string{"-f", "v4l2", "-i", "/dev/video0"}
		}
	default:
		return nil, fmt.Errorf("video capture is not implemented for %s", goos)
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	args = append(args,
		"-vf", "scale=640:-2",
		"-r", fmt.Sprintf("%d", videoFPS),
		"-q:v", "7",
		"-f", "mjpeg", "-",
	)
	return args, nil
}

// readLoop splits the MJPEG stream on JPEG start/end markers and emits
// complete frames.
func (g *VideoGrabber) readLoop() {
	defer close(g.done)

	var acc bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, err := g.stdout.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			for {
				frame, rest, ok := extractJPEG(acc.Bytes())
				if !ok {
					break
				}
				if g.onFrame != nil {
					g.onFrame(frame)
				}
				remaining := make([]byte, len(rest))
				copy(remaining, rest)
				acc.Reset()
				acc.Write(remaining)
			}
			// Guard against marker-less garbage growing without bound.
			if acc.Len() > 8*1024*1024 {
				acc.Reset()
			}
		}
		if err != nil {
			return
		}
	}
}

// extractJPEG returns the first complete SOI..EOI frame in data and the
// remaining bytes after it.
func extractJPEG(data []byte) (frame, rest []byte, ok bool) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		return nil, nil, false
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		return nil, nil, false
	}
	end = start + 2 + end + 2
	frame = make([]byte, end-start)
	copy(frame, data[start:end])
	return frame, data[end:], true
}

// Stop releases the capture process. Idempotent.
func (g *VideoGrabber) Stop() {
	if g == nil {
		return
	}
	g.stopOnce.Do(func() {
		if g.cmd != nil && g.cmd.Process != nil {
			_ = g.cmd.Process.Kill()
			_ = g.cmd.Wait()
		}
	})
	<-g.done
}
