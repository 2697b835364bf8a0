// Package delivery queues finalized sentences for the speech-synthesis
// collaborator, one ordered inbox per user.
package delivery

import (
	"strings"
	"sync"

	"github.com/voicebridge/voicebridge/internal/protocol"
	"github.com/voicebridge/voicebridge/internal/speechtext"
)

// Fanout owns the per-user audio inboxes. Jobs are FIFO within a user and
// carry a strictly increasing, never reused message id so consumers can
// discard anything older than the newest job they already rendered.
type Fanout struct {
	mu      sync.Mutex
	inboxes map[string]*inbox
}

type inbox struct {
	nextID  uint32
	jobs    []protocol.AudioJob
	waiters []chan protocol.AudioJob
}

func NewFanout() *Fanout {
	return &Fanout{inboxes: make(map[string]*inbox)}
}

// Enqueue sanitizes text for speech and appends it to the user's inbox.
// Text that sanitizes to nothing (pure markup or symbols) is skipped and
// false is returned; message ids are only spent on deliverable jobs.
func (f *Fanout) Enqueue(uid, language, text string) (protocol.AudioJob, bool) {
	return f.EnqueueIf(uid, language, text, nil)
}

// EnqueueIf behaves like Enqueue but admits the job only while admit still
// holds. The check runs under the inbox lock, so admission and message id
// assignment are one atomic step: a producer that was retired cannot slip a
// job in behind its successor's and steal a higher id. admit must not call
// back into the Fanout.
func (f *Fanout) EnqueueIf(uid, language, text string, admit func() bool) (protocol.AudioJob, bool) {
	clean := speechtext.Sanitize(text)
	if strings.TrimSpace(clean) == "" {
		return protocol.AudioJob{}, false
	}

	f.mu.Lock()
	if admit != nil && !admit() {
		f.mu.Unlock()
		return protocol.AudioJob{}, false
	}
	box := f.inboxLocked(uid)
	box.nextID++
	job := protocol.AudioJob{
		UID:       uid,
		MessageID: box.nextID,
		Language:  language,
		Text:      clean,
	}
	if len(box.waiters) > 0 {
		// Hand the job to the oldest waiting consumer; order is preserved
		// because waiters only exist when the queue is empty. The send stays
		// under the lock so Forget can never miss an in-flight handoff; a
		// waiter channel has capacity one and is used once, so this cannot
		// block.
		w := box.waiters[0]
		box.waiters = box.waiters[1:]
		w <- job
		f.mu.Unlock()
		return job, true
	}
	box.jobs = append(box.jobs, job)
	f.mu.Unlock()
	return job, true
}

// Next pops the oldest unread job for uid. ok is false when the inbox is
// empty.
func (f *Fanout) Next(uid string) (protocol.AudioJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	box := f.inboxLocked(uid)
	if len(box.jobs) == 0 {
		return protocol.AudioJob{}, false
	}
	job := box.jobs[0]
	box.jobs = box.jobs[1:]
	return job, true
}

// Wait returns a channel that yields the next job for uid: immediately if one
// is queued, otherwise when one arrives. Each call consumes at most one job.
func (f *Fanout) Wait(uid string) <-chan protocol.AudioJob {
	ch := make(chan protocol.AudioJob, 1)
	f.mu.Lock()
	box := f.inboxLocked(uid)
	if len(box.jobs) > 0 {
		job := box.jobs[0]
		box.jobs = box.jobs[1:]
		f.mu.Unlock()
		ch <- job
		return ch
	}
	box.waiters = append(box.waiters, ch)
	f.mu.Unlock()
	return ch
}

// Forget abandons a channel obtained from Wait, so a disconnected consumer
// cannot swallow the next job. A job already handed to the channel is put
// back at the front of the queue.
func (f *Fanout) Forget(uid string, ch <-chan protocol.AudioJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	box := f.inboxLocked(uid)
	for i, w := range box.waiters {
		if (<-chan protocol.AudioJob)(w) == ch {
			box.waiters = append(box.waiters[:i], box.waiters[i+1:]...)
			return
		}
	}
	select {
	case job := <-ch:
		box.jobs = append([]protocol.AudioJob{job}, box.jobs...)
	default:
	}
}

// Depth reports the number of undelivered jobs queued for uid.
func (f *Fanout) Depth(uid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inboxLocked(uid).jobs)
}

// LastID reports the most recently issued message id for uid.
func (f *Fanout) LastID(uid string) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inboxLocked(uid).nextID
}

func (f *Fanout) inboxLocked(uid string) *inbox {
	box, ok := f.inboxes[uid]
	if !ok {
		box = &inbox{}
		f.inboxes[uid] = box
	}
	return box
}
