// Package batch accounts for store attempts within the logical batches of a
// download so partial failures can be detected per batch.
package batch

// Batch is the committed outcome of one batch. Sent counts every record the
// batch attempted to store, including those that failed or were dropped.
type Batch struct {
	Sent   int
	Failed int
}

// OpenBatch is the running tally of the batch in progress. Its methods
// return updated copies; nothing is shared until the batch is committed.
type OpenBatch struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Attempt records one attempted store.
func (b OpenBatch) Attempt() OpenBatch {
	b.Attempted++
	return b
}

// Succeed records n successful stores.
func (b OpenBatch) Succeed(n int) OpenBatch {
	if n > 0 {
		b.Succeeded += n
	}
	return b
}

// Fail records one explicit failure.
func (b OpenBatch) Fail() OpenBatch {
	b.Failed++
	return b
}

// Finish commits the batch. Records attempted but neither succeeded nor
// explicitly failed count as failed.
func (b OpenBatch) Finish() Batch {
	failed := b.Failed
	if failed == 0 && b.Attempted > b.Succeeded {
		failed = b.Attempted - b.Succeeded
	}
	return Batch{Sent: b.Attempted, Failed: failed}
}

// Abort commits the batch as failed with the attempts that did not succeed,
// recording at least one failure even when every attempt was reported as
// successful. Explicit failures do not change the count.
func (b OpenBatch) Abort() Batch {
	return Batch{Sent: b.Attempted, Failed: max(1, b.Attempted-b.Succeeded)}
}

// Tracker keeps the open batch and the ordered history of committed ones.
// It is not safe for concurrent use.
type Tracker struct {
	open    OpenBatch
	history []Batch
}

// NewTracker returns a tracker with an empty open batch.
func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) OnAttempt()         { t.open = t.open.Attempt() }
func (t *Tracker) OnSucceeded(n int)  { t.open = t.open.Succeed(n) }
func (t *Tracker) OnFailed()          { t.open = t.open.Fail() }
func (t *Tracker) Current() OpenBatch { return t.open }

// OnBatchFinished commits the open batch and opens a fresh one.
func (t *Tracker) OnBatchFinished() Batch {
	b := t.open.Finish()
	t.commit(b)
	return b
}

// OnBatchFailed commits the open batch as failed and opens a fresh one.
func (t *Tracker) OnBatchFailed() Batch {
	b := t.open.Abort()
	t.commit(b)
	return b
}

func (t *Tracker) commit(b Batch) {
	t.history = append(t.history, b)
	t.open = OpenBatch{}
}

// Batches returns a copy of the committed batches in chronological order.
func (t *Tracker) Batches() []Batch {
	out := make([]Batch, len(t.history))
	copy(out, t.history)
	return out
}

// HasFailures reports whether any committed batch recorded a failure.
func (t *Tracker) HasFailures() bool {
	for _, b := range t.history {
		if b.Failed > 0 {
			return true
		}
	}
	return false
}

// Reset clears the history and the open batch.
func (t *Tracker) Reset() {
	t.history = nil
	t.open = OpenBatch{}
}
