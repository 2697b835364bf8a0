package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/voicebridge/voicebridge/internal/protocol"
)

// Entry is one conversation history element.
type Entry struct {
	Speaker protocol.Role `json:"speaker"`
	Message string        `json:"message"`
}

// Session is the per-user durable state for the process lifetime. Sessions are
// created on first contact and never evicted; long multi-user deployments grow
// the registry without bound (known limitation, see DESIGN.md).
type Session struct {
	UID         string
	History     []Entry
	PendingText string
	Epoch       uint64

	cancel context.CancelFunc
}

// Registry owns every Session behind a single mutex so that multi-step
// read-modify-write sequences (interrupt old stream, allocate next epoch) are
// atomic. Two racing turns for one user can never observe a half-updated
// session.
type Registry struct {
	mu           sync.Mutex
	historyLimit int
	sessions     map[string]*Session
}

// NewRegistry creates a registry keeping at most historyLimit entries per user.
func NewRegistry(historyLimit int) *Registry {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Registry{
		historyLimit: historyLimit,
		sessions:     make(map[string]*Session),
	}
}

func (r *Registry) getOrCreateLocked(uid string) *Session {
	s, ok := r.sessions[uid]
	if !ok {
		s = &Session{UID: uid}
		r.sessions[uid] = s
	}
	return s
}

// GetOrCreate returns a snapshot of the session for uid, creating it if
// needed. Creation is idempotent.
func (r *Registry) GetOrCreate(uid string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreateLocked(uid)
	return snapshot(s)
}

// AppendHistory records one exchange entry, evicting the oldest entries once
// the cap is exceeded.
func (r *Registry) AppendHistory(uid string, speaker protocol.Role, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreateLocked(uid)
	s.History = append(s.History, Entry{Speaker: speaker, Message: message})
	if overflow := len(s.History) - r.historyLimit; overflow > 0 {
		s.History = append(s.History[:0], s.History[overflow:]...)
	}
}

// History returns a copy of the user's conversation history, oldest first.
func (r *Registry) History(uid string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreateLocked(uid)
	out := make([]Entry, len(s.History))
	copy(out, s.History)
	return out
}

// RenderHistory produces a deterministic role-tagged transcript plus an
// instruction pinning the model to the assistant role and the requested
// language. Used verbatim as generation context.
func (r *Registry) RenderHistory(uid, language string) string {
	entries := r.History(uid)
	language = strings.TrimSpace(language)
	if language == "" {
		language = "en"
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(string(e.Speaker))
		b.WriteString(": ")
		b.WriteString(e.Message)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Answer only as the assistant, in language %q.", language)
	return b.String()
}

// SetPending stores the latest partial transcript seen for uid.
func (r *Registry) SetPending(uid, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getOrCreateLocked(uid).PendingText = text
}

// Pending returns the latest partial transcript stored for uid.
func (r *Registry) Pending(uid string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(uid).PendingText
}

// BeginGeneration retires any in-flight generation for uid and opens a new
// one: the previous stream's context is cancelled and the next epoch is
// allocated in the same critical section, so an old stream can never observe
// a cleared interrupt after a newer stream initialized.
func (r *Registry) BeginGeneration(parent context.Context, uid string) (context.Context, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreateLocked(uid)
	if s.cancel != nil {
		s.cancel()
	}
	s.Epoch++
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return ctx, s.Epoch
}

// FinishGeneration releases the stream handle for uid, but only if epoch is
// still the current one. A superseded stream finishing late must not tear
// down its successor.
func (r *Registry) FinishGeneration(uid string, epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreateLocked(uid)
	if s.Epoch != epoch {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// CurrentEpoch reports the newest generation epoch allocated for uid.
func (r *Registry) CurrentEpoch(uid string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(uid).Epoch
}

// IsCurrent reports whether epoch is still the active generation for uid.
func (r *Registry) IsCurrent(uid string, epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[uid]
	return ok && s.Epoch == epoch
}

// Count returns the number of known sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func snapshot(s *Session) Session {
	c := Session{
		UID:         s.UID,
		PendingText: s.PendingText,
		Epoch:       s.Epoch,
	}
	c.History = make([]Entry, len(s.History))
	copy(c.History, s.History)
	return c
}
