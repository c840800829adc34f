// Package submit fires the graded-answers submission and races it against a
// fixed timeout so the player always gets some result.
package submit

import (
	"context"
	"sync"
	"time"

	"arena-engine/internal/domain"
)

// DefaultTimeout bounds how long Resolve waits for the authoritative
// result before falling back to the local score.
const DefaultTimeout = 8 * time.Second

// ResultClient is the submission transport: it sends the ordered answer
// records for a lesson and returns the server's result payload.
type ResultClient interface {
	SubmitAnswers(ctx context.Context, lessonID string, answers []domain.AnswerRecord) (domain.SessionResult, error)
}

// Coordinator owns the single submission of one play-through. Submit fires
// the network call at most once; Resolve consumes the outcome exactly once
// per play-through, guarded by the timeout.
type Coordinator struct {
	client  ResultClient
	timeout time.Duration

	once sync.Once
	done chan struct{}

	result domain.SessionResult
	err    error
}

func NewCoordinator(client ResultClient, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		client:  client,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Submit starts the network call in the background. Idempotent: repeated
// calls for the same play-through neither re-send nor block. Fired as soon
// as the last answer is known so the round trip overlaps the final
// feedback pause.
func (c *Coordinator) Submit(lessonID string, answers []domain.AnswerRecord) {
	c.once.Do(func() {
		// Copy so the caller may recycle its slice after handing it over.
		records := append([]domain.AnswerRecord(nil), answers...)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			c.result, c.err = c.client.SubmitAnswers(ctx, lessonID, records)
			close(c.done)
		}()
	})
}

// Resolve returns the authoritative result if it arrives well-formed within
// the timeout, otherwise the fallback. Safe to call after Quit tore down
// everything else: the in-flight call is simply abandoned, never cancelled.
func (c *Coordinator) Resolve(fallback func() domain.SessionResult) domain.SessionResult {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		if c.err != nil || !c.result.WellFormed() {
			return fallback()
		}
		authoritative := c.result
		authoritative.Authoritative = true
		return authoritative
	case <-timer.C:
		return fallback()
	}
}
