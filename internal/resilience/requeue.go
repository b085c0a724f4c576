package resilience

import (
	"sync"
	"time"
)

// RequeueEntry records one radicado whose pass failed, so a batch run can
// retry transient failures later without losing the error context.
type RequeueEntry struct {
	RadicadoID   string    `json:"radicado_id"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// CanRetry reports whether the entry is transient and has retries left.
func (e *RequeueEntry) CanRetry() bool {
	return e.ErrorType == "transient" && e.RetryCount < e.MaxRetries
}

// Requeue is an in-memory retry queue for failed passes, scoped to one
// batch run.
type Requeue struct {
	mu         sync.Mutex
	entries    map[string]*RequeueEntry
	maxRetries int
	backoff    time.Duration
}

func NewRequeue(maxRetries int, backoff time.Duration) *Requeue {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Requeue{
		entries:    make(map[string]*RequeueEntry),
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Record registers a failed pass, bumping the retry count on repeats.
func (q *Requeue) Record(radicadoID string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	e, ok := q.entries[radicadoID]
	if !ok {
		e = &RequeueEntry{RadicadoID: radicadoID, MaxRetries: q.maxRetries}
		q.entries[radicadoID] = e
	}
	e.Error = err.Error()
	e.ErrorType = ClassifyError(err)
	e.RetryCount++
	e.LastFailedAt = now
	e.NextRetryAt = now.Add(q.backoff * time.Duration(e.RetryCount))
}

// Resolve drops a radicado whose retry succeeded.
func (q *Requeue) Resolve(radicadoID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, radicadoID)
}

// Pending returns the entries eligible for retry as of now.
func (q *Requeue) Pending(now time.Time) []RequeueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []RequeueEntry
	for _, e := range q.entries {
		if e.CanRetry() && !now.Before(e.NextRetryAt) {
			out = append(out, *e)
		}
	}
	return out
}

// Failed returns every entry still in the queue, retryable or not.
func (q *Requeue) Failed() []RequeueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]RequeueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	return out
}
