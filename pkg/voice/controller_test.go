package voice

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/voxline/voxline/pkg/audio"
	"github.com/voxline/voxline/pkg/live"
)

type fakeSession struct {
	mu     sync.Mutex
	events chan live.Event
	audio  [][]byte
	video  [][]byte
	closes int
	once   sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan live.Event, 64)}
}

func (s *fakeSession) Events() <-chan live.Event { return s.events }

func (s *fakeSession) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.audio = append(s.audio, cp)
	return nil
}

func (s *fakeSession) SendVideoFrame(jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.video = append(s.video, jpeg)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *fakeSession) audioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

type fakeVideo struct {
	mu    sync.Mutex
	stops int
}

func (v *fakeVideo) Stop() {
	v.mu.Lock()
	v.stops++
	v.mu.Unlock()
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) add(n Notice) {
	l.mu.Lock()
	l.notices = append(l.notices, n)
	l.mu.Unlock()
}

func (l *noticeLog) contains(level NoticeLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.notices {
		if n.Level == level {
			return true
		}
	}
	return false
}

type controllerHarness struct {
	session   *fakeSession
	sink      *recordSink
	clock     *fakeClock
	notices   *noticeLog
	micOpened bool
	micSource *staticSource
	entries   chan Entry
}

func newControllerHarness(t *testing.T, opts Options) (*Controller, *controllerHarness) {
	t.Helper()
	h := &controllerHarness{
		session: newFakeSession(),
		sink:    &recordSink{},
		clock:   &fakeClock{},
		notices: &noticeLog{},
		entries: make(chan Entry, 16),
	}
	if opts.Live.APIKey == "" && opts.Live.AccessToken == "" {
		opts.Live.APIKey = "test-key"
	}
	opts.Dial = func(ctx context.Context, cfg live.Config) (LiveSession, error) {
		return h.session, nil
	}
	opts.OpenMic = func(string) (io.ReadCloser, error) {
		h.micOpened = true
		h.micSource = newStaticSource(nil)
		return h.micSource, nil
	}
	opts.NewSink = func() (Sink, error) { return h.sink, nil }
	opts.Clock = h.clock
	opts.OnNotice = h.notices.add
	opts.OnEntry = func(e Entry) { h.entries <- e }
	return NewController(opts), h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestControllerConnectWithoutCredential(t *testing.T) {
	micOpened := false
	c := NewController(Options{
		OpenMic: func(string) (io.ReadCloser, error) {
			micOpened = true
			return newStaticSource(nil), nil
		},
	})

	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect succeeded without a credential")
	}
	var liveErr *live.Error
	if !errors.As(err, &liveErr) || liveErr.Type != live.ErrConfiguration {
		t.Errorf("error = %v, want a configuration error", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", c.State())
	}
	if micOpened {
		t.Error("microphone acquired before credential validation")
	}
}

func TestControllerMicFailureAborts(t *testing.T) {
	notices := &noticeLog{}
	sinkOpened := false
	c := NewController(Options{
		Live:     live.Config{APIKey: "test-key"},
		OnNotice: notices.add,
		OpenMic: func(string) (io.ReadCloser, error) {
			return nil, errors.New("device busy")
		},
		NewSink: func() (Sink, error) {
			sinkOpened = true
			return &recordSink{}, nil
		},
		Dial: func(context.Context, live.Config) (LiveSession, error) {
			t.Fatal("dialed despite microphone failure")
			return nil, nil
		},
	})

	err := c.Connect(context.Background())
	var liveErr *live.Error
	if !errors.As(err, &liveErr) || liveErr.Type != live.ErrDeviceAccess {
		t.Fatalf("error = %v, want a device access error", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", c.State())
	}
	if sinkOpened {
		t.Error("speaker acquired after microphone failure")
	}
	if !notices.contains(NoticeError) {
		t.Error("no error notice surfaced")
	}
}

func TestControllerVideoFailureIsNonFatal(t *testing.T) {
	opts := Options{Video: VideoCamera}
	opts.OpenVideo = func(VideoMode, func([]byte)) (VideoSource, error) {
		return nil, errors.New("camera denied")
	}
	c, h := newControllerHarness(t, opts)
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("state = %v, want CONNECTED", c.State())
	}
	if c.VideoEnabled() {
		t.Error("video reported active after denial")
	}
	if !h.notices.contains(NoticeWarn) {
		t.Error("no warning notice about disabled video")
	}
}

func TestControllerVideoStopsOnDisconnect(t *testing.T) {
	video := &fakeVideo{}
	opts := Options{Video: VideoCamera}
	opts.OpenVideo = func(VideoMode, func([]byte)) (VideoSource, error) {
		return video, nil
	}
	c, _ := newControllerHarness(t, opts)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.VideoEnabled() {
		t.Fatal("video not active")
	}
	c.Disconnect()
	if video.stops != 1 {
		t.Errorf("video stops = %d, want 1", video.stops)
	}
}

func TestControllerRoutesReplyAudioAndTranscripts(t *testing.T) {
	c, h := newControllerHarness(t, Options{})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	pcm := audio.EncodePCM16(make([]float64, 2400)) // 100ms at 24kHz
	h.session.events <- live.OutputTranscriptEvent{Text: "hello "}
	h.session.events <- live.OutputTranscriptEvent{Text: "there"}
	h.session.events <- live.AudioChunkEvent{Data: pcm}
	h.session.events <- live.TurnCompleteEvent{}

	select {
	case entry := <-h.entries:
		if entry.Role != RoleModel || entry.Text != "hello there" {
			t.Errorf("entry = %s %q, want model %q", entry.Role, entry.Text, "hello there")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transcript entry committed")
	}

	h.sink.mu.Lock()
	played := len(h.sink.played)
	h.sink.mu.Unlock()
	if played != 1 {
		t.Errorf("sink received %d buffers, want 1", played)
	}
}

func TestControllerInterruptionFlushesAndMarks(t *testing.T) {
	c, h := newControllerHarness(t, Options{})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	h.session.events <- live.OutputTranscriptEvent{Text: "as I was"}
	h.session.events <- live.AudioChunkEvent{Data: audio.EncodePCM16(make([]float64, 24000))}
	h.session.events <- live.InterruptedEvent{}

	select {
	case entry := <-h.entries:
		want := "as I was" + InterruptedMarker
		if entry.Text != want {
			t.Errorf("entry text = %q, want %q", entry.Text, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interruption committed no entry")
	}
	waitFor(t, "playback flush", func() bool { return h.sink.flushCount() >= 1 })
}

func TestControllerMalformedReplyAudioDropped(t *testing.T) {
	c, h := newControllerHarness(t, Options{})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	h.session.events <- live.AudioChunkEvent{Data: []byte{0x01}} // odd length
	h.session.events <- live.AudioChunkEvent{Data: audio.EncodePCM16(make([]float64, 2400))}

	waitFor(t, "valid chunk playback", func() bool {
		h.sink.mu.Lock()
		defer h.sink.mu.Unlock()
		return len(h.sink.played) == 1
	})
	if c.State() != StateConnected {
		t.Errorf("state = %v, want CONNECTED after a dropped chunk", c.State())
	}
}

func TestControllerRemoteCloseTearsDown(t *testing.T) {
	c, h := newControllerHarness(t, Options{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.session.events <- live.ClosedEvent{Reason: "remote closed"}

	waitFor(t, "disconnected state", func() bool { return c.State() == StateDisconnected })
	waitFor(t, "session close", func() bool { return h.session.closeCount() >= 1 })
}

func TestControllerRemoteErrorEntersErrorState(t *testing.T) {
	c, h := newControllerHarness(t, Options{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.session.events <- live.ErrorEvent{Err: live.NewOverloadedError("quota exhausted")}

	waitFor(t, "error state", func() bool { return c.State() == StateError })
	if !h.notices.contains(NoticeError) {
		t.Error("no error notice surfaced")
	}
	// Recovery from the error state is a fresh Connect.
	h2 := newFakeSession()
	c.opts.Dial = func(context.Context, live.Config) (LiveSession, error) { return h2, nil }
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect after error: %v", err)
	}
	c.Disconnect()
}

func TestControllerDisconnectIdempotent(t *testing.T) {
	c, h := newControllerHarness(t, Options{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Disconnect()
	c.Disconnect()

	if c.State() != StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", c.State())
	}
	if h.session.closeCount() != 1 {
		t.Errorf("session closes = %d, want 1", h.session.closeCount())
	}
	if h.sink.closes != 1 {
		t.Errorf("sink closes = %d, want 1", h.sink.closes)
	}
}

func TestControllerStreamsCaptureAudio(t *testing.T) {
	blockBytes := BlockSamples * 2
	opts := Options{}
	c, h := newControllerHarness(t, opts)
	c.opts.OpenMic = func(string) (io.ReadCloser, error) {
		h.micSource = newStaticSource(make([]byte, 2*blockBytes))
		return h.micSource, nil
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "captured chunks reaching the session", func() bool {
		return h.session.audioCount() == 2
	})
}

func TestControllerRejectsSecondConnect(t *testing.T) {
	c, _ := newControllerHarness(t, Options{})
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Connect(context.Background()); err == nil {
		t.Error("second Connect succeeded while a session is active")
	}
}
