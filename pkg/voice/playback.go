package voice

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxline/voxline/pkg/audio"
)

var errSchedulerClosed = errors.New("playback scheduler is closed")

// Clock reports the current position on the playback output timeline.
type Clock interface {
	Now() time.Duration
}

// wallClock measures the output timeline from scheduler creation.
type wallClock struct {
	start time.Time
}

func (c wallClock) Now() time.Duration { return time.Since(c.start) }

// Sink receives scheduled audio for actual output. The production sink
// feeds a speaker process; tests record what was played.
type Sink interface {
	// Play appends PCM16LE audio to the output stream.
	Play(pcm []byte) error
	// Flush discards any buffered, not-yet-played output immediately.
	Flush() error
	// Close releases the sink.
	Close() error
}

// Segment is one decoded reply buffer scheduled for playback. Owned by
// the Scheduler from creation until its completion fires.
type Segment struct {
	ID       string
	Buffer   *audio.Buffer
	Start    time.Duration
	Duration time.Duration
}

// End returns the scheduled end of the segment on the output timeline.
func (s *Segment) End() time.Duration { return s.Start + s.Duration }

// Scheduler assigns each inbound reply segment a start time immediately
// after the previously scheduled one, guaranteeing gapless,
// non-overlapping sequential playback, and can flush everything on
// interruption.
type Scheduler struct {
	mu       sync.Mutex
	clock    Clock
	sink     Sink
	cursor   time.Duration
	inflight []*Segment
	timers   map[string]*time.Timer
	closed   bool
}

// NewScheduler creates a scheduler over the given sink. A nil clock uses
// a monotonic clock starting now.
func NewScheduler(sink Sink, clock Clock) *Scheduler {
	if clock == nil {
		clock = wallClock{start: time.Now()}
	}
	return &Scheduler{
		clock:  clock,
		sink:   sink,
		timers: make(map[string]*time.Timer),
	}
}

// Enqueue schedules buf to start at max(cursor, clock now) and advances
// the cursor past it. Returns the scheduled segment.
func (s *Scheduler) Enqueue(buf *audio.Buffer) (*Segment, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errSchedulerClosed
	}

	start := s.cursor
	if now := s.clock.Now(); now > start {
		start = now
	}
	seg := &Segment{
		ID:       uuid.NewString(),
		Buffer:   buf,
		Start:    start,
		Duration: buf.Duration(),
	}
	s.cursor = seg.End()
	s.inflight = append(s.inflight, seg)

	remaining := seg.End() - s.clock.Now()
	if remaining < 0 {
		remaining = 0
	}
	id := seg.ID
	s.timers[id] = time.AfterFunc(remaining, func() { s.complete(id) })
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		if err := sink.Play(buf.PCM16()); err != nil {
			return seg, err
		}
	}
	return seg, nil
}

// complete removes a segment from the in-flight set on natural playback
// completion.
func (s *Scheduler) complete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, id)
	for i, seg := range s.inflight {
		if seg.ID == id {
			s.inflight = append(s.inflight[:i], s.inflight[i+1:]...)
			return
		}
	}
}

// Flush stops every in-flight segment, clears the set, and resets the
// cursor to zero. Called on an interruption signal so no stale audio
// continues playing and the next reply starts from a clean timeline.
func (s *Scheduler) Flush() error {
	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.inflight = nil
	s.cursor = 0
	sink := s.sink
	closed := s.closed
	s.mu.Unlock()

	if sink != nil && !closed {
		return sink.Flush()
	}
	return nil
}

// Close flushes pending playback and releases the sink. Used on session
// end; safe to call more than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.inflight = nil
	s.cursor = 0
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		return sink.Close()
	}
	return nil
}

// Cursor returns the current playback cursor.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// InFlight returns a snapshot of the currently scheduled segments in
// arrival order.
func (s *Scheduler) InFlight() []*Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Segment, len(s.inflight))
	copy(out, s.inflight)
	return out
}
