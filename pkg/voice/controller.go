package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/voxline/voxline/pkg/audio"
	"github.com/voxline/voxline/pkg/live"
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// NoticeLevel grades user-visible notices.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is a user-visible condition surfaced by the controller. Device
// and transport failures are converted into notices at this boundary and
// never propagate as uncaught faults.
type Notice struct {
	Level NoticeLevel
	Text  string
	Time  time.Time
}

// LiveSession is the slice of the live session the controller drives.
// *live.Session satisfies it; tests substitute a synthetic session.
type LiveSession interface {
	Events() <-chan live.Event
	SendAudio(pcm []byte) error
	SendVideoFrame(jpeg []byte) error
	Close() error
}

// VideoSource is a running optional video capture.
type VideoSource interface {
	Stop()
}

// Options configures a Controller. The function fields default to the
// production implementations; tests inject fakes.
type Options struct {
	Live       live.Config
	Video      VideoMode
	MicCommand string
	Logger     *slog.Logger

	// OnVolume receives the capture RMS value per block.
	OnVolume func(float64)
	// OnEntry receives each committed transcript entry.
	OnEntry func(Entry)
	// OnNotice receives user-visible notices.
	OnNotice func(Notice)

	Dial      func(ctx context.Context, cfg live.Config) (LiveSession, error)
	OpenMic   func(cmdOverride string) (io.ReadCloser, error)
	OpenVideo func(mode VideoMode, onFrame func([]byte)) (VideoSource, error)
	NewSink   func() (Sink, error)
	Clock     Clock
}

// Controller orchestrates one live conversation: it opens the streaming
// session, wires the capture pipeline's output into it, routes inbound
// events to the playback scheduler and transcript reconciler, and
// guarantees full teardown of every acquired resource on end or error.
// Exactly one session may be open at a time.
type Controller struct {
	opts   Options
	logger *slog.Logger

	reconciler *Reconciler
	visualizer *Visualizer

	mu        sync.Mutex
	state     State
	session   LiveSession
	scheduler *Scheduler
	videoOn   bool
	cleanup   []func()
}

// NewController creates a controller in the Disconnected state.
func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, cfg live.Config) (LiveSession, error) {
			return live.Connect(ctx, cfg)
		}
	}
	if opts.OpenMic == nil {
		opts.OpenMic = OpenMic
	}
	if opts.OpenVideo == nil {
		opts.OpenVideo = func(mode VideoMode, onFrame func([]byte)) (VideoSource, error) {
			return OpenVideo(mode, onFrame)
		}
	}
	if opts.NewSink == nil {
		opts.NewSink = func() (Sink, error) {
			return NewSpeaker("", 0)
		}
	}
	return &Controller{
		opts:       opts,
		logger:     opts.Logger,
		reconciler: NewReconciler(opts.OnEntry),
		visualizer: NewVisualizer(),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Entries returns the committed transcript log.
func (c *Controller) Entries() []Entry { return c.reconciler.Entries() }

// Visualizer exposes the audio-energy sampler for the render loop.
func (c *Controller) Visualizer() *Visualizer { return c.visualizer }

// VideoEnabled reports whether the optional video modality is active.
func (c *Controller) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.videoOn
}

// Connect validates the credential, acquires devices, opens the live
// session, and wires the pipeline. It fails fast with a configuration
// error before any device or network work when no credential is set.
func (c *Controller) Connect(ctx context.Context) error {
	if err := c.opts.Live.Validate(); err != nil {
		c.notify(NoticeError, err.Error())
		return err
	}

	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return errors.New("a session is already active")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	// Microphone is the primary modality; failure aborts the connection.
	source, err := c.opts.OpenMic(c.opts.MicCommand)
	if err != nil {
		devErr := live.NewDeviceAccessError("microphone", err)
		c.notify(NoticeError, devErr.Error())
		c.teardown(StateDisconnected, "")
		return devErr
	}
	c.register(func() { _ = source.Close() })

	sink, err := c.opts.NewSink()
	if err != nil {
		devErr := live.NewDeviceAccessError("speaker", err)
		c.notify(NoticeError, devErr.Error())
		c.teardown(StateDisconnected, "")
		return devErr
	}
	scheduler := NewScheduler(sink, c.opts.Clock)
	c.register(func() { _ = scheduler.Close() })

	session, err := c.opts.Dial(ctx, c.opts.Live)
	if err != nil {
		c.notify(NoticeError, connectFailureText(err))
		next := StateError
		var liveErr *live.Error
		if errors.As(err, &liveErr) && liveErr.Type == live.ErrConfiguration {
			next = StateDisconnected
		}
		c.teardown(next, "")
		return err
	}
	c.register(func() { _ = session.Close() })

	// Video is an optional secondary stream; denial or absence of a
	// device disables the modality and the session proceeds audio-only.
	videoOn := false
	if c.opts.Video != VideoOff && c.opts.Video != "" {
		video, verr := c.opts.OpenVideo(c.opts.Video, func(frame []byte) {
			_ = session.SendVideoFrame(frame)
		})
		if verr != nil {
			c.notify(NoticeWarn, fmt.Sprintf("video capture unavailable, continuing audio-only: %v", verr))
		} else {
			videoOn = true
			c.register(video.Stop)
		}
	}

	capture := NewCapture(source, func(chunk []byte) {
		c.visualizer.Feed(chunk)
		if serr := session.SendAudio(chunk); serr != nil {
			c.logger.Debug("send audio chunk", "error", serr)
		}
	}, c.opts.OnVolume)
	c.register(capture.Stop)
	c.visualizer.SetActive(true)
	capture.Start()

	c.mu.Lock()
	c.state = StateConnected
	c.session = session
	c.scheduler = scheduler
	c.videoOn = videoOn
	c.mu.Unlock()

	go c.eventLoop(session, scheduler)
	c.notify(NoticeInfo, "connected")
	return nil
}

// eventLoop dispatches inbound events in arrival order until the session
// ends.
func (c *Controller) eventLoop(session LiveSession, scheduler *Scheduler) {
	for event := range session.Events() {
		switch e := event.(type) {
		case live.OpenedEvent:
			// Setup acknowledgement; nothing to route.
		case live.AudioChunkEvent:
			buf, err := audio.BufferFromPCM16(e.Data, audio.PlaybackFormat().SampleRate)
			if err != nil {
				// Contained here: a malformed segment is dropped and the
				// scheduler state is left untouched.
				c.logger.Warn("dropping malformed reply segment", "error", err)
				continue
			}
			if _, err := scheduler.Enqueue(buf); err != nil {
				c.logger.Debug("enqueue reply segment", "error", err)
			}
		case live.InputTranscriptEvent:
			c.reconciler.AddFragment(RoleUser, e.Text)
		case live.OutputTranscriptEvent:
			c.reconciler.AddFragment(RoleModel, e.Text)
		case live.TurnCompleteEvent:
			c.reconciler.TurnComplete()
		case live.InterruptedEvent:
			if err := scheduler.Flush(); err != nil {
				c.logger.Warn("flush playback on interruption", "error", err)
			}
			c.reconciler.Interrupted()
		case live.ClosedEvent:
			// A remote close is normal termination, not an error.
			c.teardown(StateDisconnected, "session ended by remote")
			return
		case live.ErrorEvent:
			c.teardown(StateError, remoteFailureText(e.Err))
			return
		}
	}
	c.teardown(StateDisconnected, "session ended")
}

// Interrupt applies interruption handling locally: scheduled playback is
// flushed and a pending model utterance is committed with the
// interruption marker. No-op when no session is active.
func (c *Controller) Interrupt() {
	c.mu.Lock()
	scheduler := c.scheduler
	c.mu.Unlock()
	if scheduler == nil {
		return
	}
	if err := scheduler.Flush(); err != nil {
		c.logger.Warn("flush playback on interrupt", "error", err)
	}
	c.reconciler.Interrupted()
}

// Disconnect tears the session down. Idempotent and safe to call from
// any state; every acquired device is released exactly once.
func (c *Controller) Disconnect() {
	c.teardown(StateDisconnected, "")
}

func (c *Controller) register(release func()) {
	c.mu.Lock()
	c.cleanup = append(c.cleanup, release)
	c.mu.Unlock()
}

func (c *Controller) teardown(next State, noticeText string) {
	c.mu.Lock()
	cleanups := c.cleanup
	c.cleanup = nil
	alreadyDown := c.state == StateDisconnected || c.state == StateError
	if !alreadyDown || len(cleanups) > 0 {
		c.state = next
	}
	c.session = nil
	c.scheduler = nil
	c.videoOn = false
	c.mu.Unlock()

	if len(cleanups) == 0 && alreadyDown {
		return
	}

	c.visualizer.SetActive(false)
	c.reconciler.Reset()
	// Release in reverse acquisition order.
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	if noticeText != "" {
		level := NoticeInfo
		if next == StateError {
			level = NoticeError
		}
		c.notify(level, noticeText)
	}
}

func (c *Controller) notify(level NoticeLevel, text string) {
	notice := Notice{Level: level, Text: text, Time: time.Now()}
	switch level {
	case NoticeError:
		c.logger.Error(text)
	case NoticeWarn:
		c.logger.Warn(text)
	default:
		c.logger.Info(text)
	}
	if c.opts.OnNotice != nil {
		c.opts.OnNotice(notice)
	}
}

func connectFailureText(err error) string {
	var liveErr *live.Error
	if errors.As(err, &liveErr) && liveErr.Type == live.ErrOverloaded {
		return "service is overloaded or unavailable, try again later: " + liveErr.Message
	}
	return "connection failed: " + err.Error()
}

func remoteFailureText(err *live.Error) string {
	if err == nil {
		return "session failed"
	}
	if err.Type == live.ErrOverloaded {
		return "service is overloaded or unavailable, try again later: " + err.Message
	}
	return "session failed: " + err.Error()
}
