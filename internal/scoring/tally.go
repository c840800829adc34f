// Package scoring tallies per-question correctness and computes the
// deterministic local-fallback score used whenever the authoritative server
// result cannot be obtained in time.
package scoring

import (
	"math"

	"arena-engine/internal/domain"
)

// ValidateFunc decides whether a raw answer matches a question's encrypted
// canonical answer. Satisfied by (*secure.Codec).Validate.
type ValidateFunc func(user *domain.Answer, blob string, kind domain.QuestionKind) bool

// Tally accumulates one verdict per question over a single play-through.
type Tally struct {
	validate ValidateFunc

	correct  int
	total    int
	maxScore int
}

// NewTally sizes the tally from the session's questions; maxScore is
// computed once, when the question set is known.
func NewTally(session domain.ExamSession, validate ValidateFunc) *Tally {
	return &Tally{
		validate: validate,
		total:    len(session.Questions),
		maxScore: session.MaxPossibleScore(),
	}
}

// Record registers the verdict for one question and reports it. A timeout
// is always incorrect and never reaches the validator, whatever stray raw
// answer came with it.
func (t *Tally) Record(q domain.Question, raw *domain.Answer, isTimeout bool) bool {
	if isTimeout {
		return false
	}
	ok := t.validate(raw, q.SecureAnswer, q.Kind)
	if ok {
		t.correct++
	}
	return ok
}

// CorrectCount returns the number of correct verdicts so far.
func (t *Tally) CorrectCount() int { return t.correct }

// MaxPossibleScore returns the summed point weight of the session.
func (t *Tally) MaxPossibleScore() int { return t.maxScore }

// Reset clears the tally for a fresh play-through of a new session.
func (t *Tally) Reset(session domain.ExamSession) {
	t.correct = 0
	t.total = len(session.Questions)
	t.maxScore = session.MaxPossibleScore()
}

// LocalFallback computes the client-side score on the fixed 20-point scale,
// rounded to the nearest 0.5. The formula must stay bit-for-bit stable: it
// is the player-visible score whenever the network is slow.
func (t *Tally) LocalFallback() domain.SessionResult {
	return LocalFallback(t.correct, t.total)
}

// LocalFallback is the deterministic fallback formula:
// score = round((correct/total)*20*2)/2 on a fixed 20-point scale.
func LocalFallback(correct, total int) domain.SessionResult {
	if total <= 0 {
		return domain.SessionResult{MaxScore: 20}
	}
	ratio := float64(correct) / float64(total)
	return domain.SessionResult{
		Score:      math.Round(ratio*20*2) / 2,
		MaxScore:   20,
		Percentage: int(math.Round(ratio * 100)),
	}
}
