package voice

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/voxline/voxline/pkg/audio"
)

// Speaker is a Sink backed by an ffplay subprocess reading PCM16LE from
// stdin. Flush restarts the process, which discards everything buffered
// on the remote side of the pipe immediately.
type Speaker struct {
	path   string
	format audio.Format
	volume int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewSpeaker creates a speaker sink. An empty path uses "ffplay" from
// PATH; volume is the 0-100 startup volume.
func NewSpeaker(path string, volume int) (*Speaker, error) {
	if path == "" {
		path = "ffplay"
	}
	if _, err := exec.LookPath(path); err != nil {
		return nil, fmt.Errorf("%s is required for playback (install ffmpeg/ffplay and ensure it is in PATH)", path)
	}
	if volume <= 0 {
		volume = 80
	}
	s := &Speaker{path: path, format: audio.PlaybackFormat(), volume: volume}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.startLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Speaker) startLocked() error {
	if s.cmd != nil && s.cmd.Process != nil {
		return nil
	}
	// ffplay does not accept ffmpeg-style `-ac` on all builds; `-ch_layout mono`
	// is the portable spelling.
	cmd := exec.Command(s.path,
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-volume", fmt.Sprintf("%d", s.volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", fmt.Sprintf("%d", s.format.SampleRate),
		"-i", "-",
	)
	if runtime.GOOS == "darwin" {
		// SDL can pick a silent dummy audio backend on macOS; prefer CoreAudio
		// unless the user overrides it.
		if os.Getenv("SDL_AUDIODRIVER") == "" {
			cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
		}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start ffplay: %w", err)
	}
	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.mu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}(cmd)
	return nil
}

// Play appends audio to the output stream, restarting the process if it
// exited.
func (s *Speaker) Play(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.startLocked(); err != nil {
		return err
	}
	_, err := s.stdin.Write(pcm)
	return err
}

// Flush kills and restarts the player, discarding buffered audio.
func (s *Speaker) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return s.startLocked()
}

// Close stops the player. Safe to call more than once.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Speaker) closeLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
}
