package delivery

import (
	"testing"
	"time"
)

func TestEnqueueFIFOAndMonotonicIDs(t *testing.T) {
	f := NewFanout()
	texts := []string{"First sentence.", "Second sentence.", "Third sentence."}
	for _, txt := range texts {
		if _, ok := f.Enqueue("u1", "en", txt); !ok {
			t.Fatalf("Enqueue(%q) rejected", txt)
		}
	}

	var last uint32
	for i, want := range texts {
		job, ok := f.Next("u1")
		if !ok {
			t.Fatalf("Next() empty at %d", i)
		}
		if job.Text != want {
			t.Fatalf("job %d text = %q, want %q", i, job.Text, want)
		}
		if job.MessageID != last+1 {
			t.Fatalf("job %d id = %d, want %d (strictly increasing, no gaps)", i, job.MessageID, last+1)
		}
		last = job.MessageID
	}
	if _, ok := f.Next("u1"); ok {
		t.Fatalf("Next() on drained inbox returned a job")
	}
}

func TestUsersAreIsolated(t *testing.T) {
	f := NewFanout()
	f.Enqueue("u1", "en", "For user one.")
	f.Enqueue("u2", "en", "For user two.")

	job, ok := f.Next("u2")
	if !ok || job.Text != "For user two." {
		t.Fatalf("u2 job = (%+v, %v), want its own sentence", job, ok)
	}
	if job.MessageID != 1 {
		t.Fatalf("u2 first id = %d, want 1 (ids are per user)", job.MessageID)
	}
	if f.Depth("u1") != 1 {
		t.Fatalf("u1 depth = %d, want 1", f.Depth("u1"))
	}
}

func TestEnqueueSkipsUnspeakableText(t *testing.T) {
	f := NewFanout()
	if _, ok := f.Enqueue("u1", "en", "```\ncode only\n```"); ok {
		t.Fatalf("markup-only text should not produce a job")
	}
	if f.LastID("u1") != 0 {
		t.Fatalf("LastID = %d, want 0 (no id spent on skipped text)", f.LastID("u1"))
	}
}

func TestWaitDeliversQueuedJobImmediately(t *testing.T) {
	f := NewFanout()
	f.Enqueue("u1", "en", "Already here.")

	select {
	case job := <-f.Wait("u1"):
		if job.Text != "Already here." {
			t.Fatalf("job text = %q", job.Text)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait() did not yield queued job")
	}
}

func TestWaitBlocksUntilEnqueue(t *testing.T) {
	f := NewFanout()
	ch := f.Wait("u1")

	select {
	case job := <-ch:
		t.Fatalf("Wait() yielded %+v before any enqueue", job)
	case <-time.After(20 * time.Millisecond):
	}

	f.Enqueue("u1", "en", "Fresh sentence.")
	select {
	case job := <-ch:
		if job.Text != "Fresh sentence." || job.MessageID != 1 {
			t.Fatalf("unexpected job: %+v", job)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait() never woke after enqueue")
	}
}

func TestEnqueueIfRejectsWithoutSpendingID(t *testing.T) {
	f := NewFanout()
	if _, ok := f.EnqueueIf("u1", "en", "Too late.", func() bool { return false }); ok {
		t.Fatalf("EnqueueIf with failing admit produced a job")
	}
	if f.LastID("u1") != 0 {
		t.Fatalf("LastID = %d, want 0 (no id spent on rejected job)", f.LastID("u1"))
	}

	job, ok := f.EnqueueIf("u1", "en", "Right on time.", func() bool { return true })
	if !ok || job.MessageID != 1 {
		t.Fatalf("EnqueueIf with passing admit = (%+v, %v), want job with id 1", job, ok)
	}
}

func TestForgetAbandonedWaiterDoesNotSwallowJobs(t *testing.T) {
	f := NewFanout()
	ch := f.Wait("u1")
	f.Forget("u1", ch)

	f.Enqueue("u1", "en", "Still deliverable.")
	job, ok := f.Next("u1")
	if !ok || job.Text != "Still deliverable." {
		t.Fatalf("job after Forget = (%+v, %v), want the enqueued sentence", job, ok)
	}
}

func TestForgetRequeuesHandedOffJob(t *testing.T) {
	f := NewFanout()
	ch := f.Wait("u1")
	f.Enqueue("u1", "en", "Handed off.")

	// The job is sitting in the abandoned waiter's buffer; Forget must put it
	// back at the head of the queue.
	f.Forget("u1", ch)
	job, ok := f.Next("u1")
	if !ok || job.Text != "Handed off." {
		t.Fatalf("requeued job = (%+v, %v), want %q", job, ok, "Handed off.")
	}
}
