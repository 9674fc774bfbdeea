package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const defaultConnectTimeout = 15 * time.Second

// Session is an open streaming connection to the remote live service.
// Exactly one should be open at a time; the lifecycle controller owns it.
type Session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Connect opens a live session: dials the websocket endpoint, sends the
// setup frame, and waits for the remote's acknowledgement.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	endpoint := url.URL{Scheme: "wss", Host: cfg.Host, Path: bidiPath}
	q := endpoint.Query()
	if token := strings.TrimSpace(cfg.AccessToken); token != "" {
		q.Set("access_token", token)
	} else {
		q.Set("key", strings.TrimSpace(cfg.APIKey))
	}
	endpoint.RawQuery = q.Encode()

	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, endpoint.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, NewTransportError(fmt.Sprintf("websocket dial failed (status %d): %v", resp.StatusCode, err))
		}
		return nil, NewTransportError(fmt.Sprintf("websocket dial failed: %v", err))
	}

	setup := setupFrame{Setup: setupPayload{
		Model: "models/" + strings.TrimPrefix(cfg.Model, "models/"),
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: &voiceConfig{
					PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: cfg.Voice},
				},
			},
		},
	}}
	if instruction := strings.TrimSpace(cfg.SystemInstruction); instruction != "" {
		setup.Setup.SystemInstruction = &content{Parts: []part{{Text: instruction}}}
	}
	if cfg.InputTranscripts {
		setup.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscripts {
		setup.Setup.OutputAudioTranscription = &struct{}{}
	}

	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, NewTransportError(fmt.Sprintf("send setup: %v", err))
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultConnectTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, NewTransportError(fmt.Sprintf("read setup ack: %v", err))
	}
	_ = conn.SetReadDeadline(time.Time{})

	var first serverFrame
	if err := json.Unmarshal(payload, &first); err != nil {
		_ = conn.Close()
		return nil, NewTransportError(fmt.Sprintf("decode setup ack: %v", err))
	}
	if first.Error != nil {
		_ = conn.Close()
		return nil, remoteError(first.Error)
	}
	if first.SetupComplete == nil {
		_ = conn.Close()
		return nil, NewTransportError("remote did not acknowledge session setup")
	}

	s := &Session{
		conn:   conn,
		logger: slog.Default(),
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	s.emit(OpenedEvent{})
	go s.readLoop()
	return s, nil
}

// Events yields inbound session events in arrival order.
func (s *Session) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// SendAudio streams one captured audio chunk (PCM16LE at the capture
// sample rate) to the remote. Chunks must be sent in capture order.
func (s *Session) SendAudio(pcm []byte) error {
	return s.sendMedia(mimePCMCapture, pcm)
}

// SendVideoFrame streams one compressed video frame as an auxiliary input
// modality. Best effort; dropped frames are not resent.
func (s *Session) SendVideoFrame(jpeg []byte) error {
	return s.sendMedia(mimeJPEG, jpeg)
}

func (s *Session) sendMedia(mimeType string, data []byte) error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	frame := realtimeInputFrame{RealtimeInput: realtimeInput{
		MediaChunks: []mediaChunk{{
			MIMEType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(data),
		}},
	}}
	return s.sendJSON(frame)
}

func (s *Session) sendJSON(v any) error {
	if s.closed.Load() {
		return fmt.Errorf("live session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close closes the websocket session. Safe to call more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err returns the terminal session error (if any).
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(ClosedEvent{Reason: "remote closed"})
				return
			}
			terr := NewTransportError(err.Error())
			s.setErr(terr)
			s.emit(ErrorEvent{Err: terr})
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("dropping undecodable live frame", "error", err)
			continue
		}
		for _, event := range s.frameEvents(frame) {
			s.emit(event)
			if errEvent, ok := event.(ErrorEvent); ok {
				s.setErr(errEvent.Err)
			}
		}
	}
}

// frameEvents flattens one server frame into events. A single
// serverContent frame can carry transcripts, audio, and turn flags; the
// emission order is transcripts, audio, interrupted, turn-complete.
func (s *Session) frameEvents(frame serverFrame) []Event {
	var out []Event
	if sc := frame.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			out = append(out, InputTranscriptEvent{Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			out = append(out, OutputTranscriptEvent{Text: sc.OutputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MIMEType, "audio/pcm") {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					// A non-decodable chunk is dropped; the session stays up.
					s.logger.Warn("dropping malformed audio chunk", "error", err)
					continue
				}
				out = append(out, AudioChunkEvent{Data: pcm})
			}
		}
		if sc.Interrupted {
			out = append(out, InterruptedEvent{})
		}
		if sc.TurnComplete {
			out = append(out, TurnCompleteEvent{})
		}
	}
	if frame.GoAway != nil {
		s.logger.Warn("remote announced shutdown", "time_left", frame.GoAway.TimeLeft)
	}
	if frame.Error != nil {
		out = append(out, ErrorEvent{Err: remoteError(frame.Error)})
	}
	return out
}

func remoteError(e *serverError) *Error {
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = "remote error"
	}
	switch {
	case e.Code == 429 || e.Code == 503,
		strings.EqualFold(e.Status, "RESOURCE_EXHAUSTED"),
		strings.EqualFold(e.Status, "UNAVAILABLE"):
		return NewOverloadedError(message)
	default:
		err := NewAPIError(message)
		err.Code = strings.TrimSpace(e.Status)
		return err
	}
}

func (s *Session) emit(event Event) {
	if event == nil {
		return
	}
	select {
	case s.events <- event:
	default:
		// Avoid deadlocking the read loop if the consumer stops draining.
	}
}
