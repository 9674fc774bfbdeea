package voice

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the originator of an utterance.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// InterruptedMarker is appended to a model utterance that was cut short.
const InterruptedMarker = " [Interrupted]"

// Entry is one committed conversation turn. Immutable once created; the
// ordered sequence of entries is the sole record of the conversation
// within a session's lifetime.
type Entry struct {
	ID   string
	Role Role
	Time time.Time
	Text string
}

// Reconciler accumulates streamed transcript fragments tagged by role
// into a single pending utterance and commits it to the log on a turn
// boundary or role switch. At most one utterance is pending at a time,
// so a committed entry never mixes two speakers.
type Reconciler struct {
	mu       sync.Mutex
	pending  strings.Builder
	role     Role
	hasRole  bool
	entries  []Entry
	onCommit func(Entry)
	now      func() time.Time
}

// NewReconciler creates an empty reconciler. onCommit (optional) fires
// for every committed entry, in commit order.
func NewReconciler(onCommit func(Entry)) *Reconciler {
	return &Reconciler{onCommit: onCommit, now: time.Now}
}

// AddFragment appends a transcript fragment for the given role. A
// fragment for a different role first commits the pending utterance.
func (r *Reconciler) AddFragment(role Role, text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	var committed *Entry
	if r.hasRole && r.role != role {
		committed = r.commitLocked(r.pending.String())
	}
	r.role = role
	r.hasRole = true
	r.pending.WriteString(text)
	r.mu.Unlock()

	r.notify(committed)
}

// TurnComplete commits the pending utterance, if any.
func (r *Reconciler) TurnComplete() {
	r.mu.Lock()
	var committed *Entry
	if r.hasRole {
		committed = r.commitLocked(r.pending.String())
	}
	r.mu.Unlock()

	r.notify(committed)
}

// Interrupted commits a pending model utterance with the interruption
// marker. A pending user utterance, or no pending utterance, is left
// untouched; the caller still flushes playback separately.
func (r *Reconciler) Interrupted() {
	r.mu.Lock()
	var committed *Entry
	if r.hasRole && r.role == RoleModel {
		committed = r.commitLocked(r.pending.String() + InterruptedMarker)
	}
	r.mu.Unlock()

	r.notify(committed)
}

// commitLocked appends the pending utterance to the log and returns to
// the idle state. Caller holds the lock.
func (r *Reconciler) commitLocked(text string) *Entry {
	entry := Entry{
		ID:   uuid.NewString(),
		Role: r.role,
		Time: r.now(),
		Text: text,
	}
	r.entries = append(r.entries, entry)
	r.pending.Reset()
	r.hasRole = false
	return &entry
}

func (r *Reconciler) notify(entry *Entry) {
	if entry != nil && r.onCommit != nil {
		r.onCommit(*entry)
	}
}

// Pending returns the role and text of the in-progress utterance.
func (r *Reconciler) Pending() (Role, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasRole {
		return "", "", false
	}
	return r.role, r.pending.String(), true
}

// Entries returns a snapshot of the committed log in commit order.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Reset drops any pending utterance without committing it. The committed
// log survives; used on session teardown.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending.Reset()
	r.hasRole = false
}
