// Package arena runs one player's timed exam as an explicit state machine:
// Lobby -> Countdown -> Playing -> Analyzing -> Finished. All transitions
// funnel through a single mutex-guarded core; timers and the submission
// race re-enter through the same lock, so exactly one verdict is recorded
// per question and exactly one result is attached per play-through.
package arena

import (
	"math"
	"sync"
	"time"

	"arena-engine/internal/domain"
	"arena-engine/internal/format"
	"arena-engine/internal/scoring"
	"arena-engine/internal/secure"
	"arena-engine/internal/submit"
)

// State is the lifecycle phase of a play-through.
type State string

const (
	StateLobby     State = "lobby"
	StateCountdown State = "countdown"
	StatePlaying   State = "playing"
	StateAnalyzing State = "analyzing"
	StateFinished  State = "finished"
)

// Config tunes the machine's pacing. Zero values take the defaults below.
type Config struct {
	CountdownSeconds int           // pre-game 3-2-1 ticks, default 3
	FeedbackDelay    time.Duration // pause after a correct answer, default 1200ms
	SubmitTimeout    time.Duration // race window at Analyzing, default 8s
	TickInterval     time.Duration // question-timer recompute period, default 250ms
	Locale           format.Locale // explanation language, default English
}

func (c Config) withDefaults() Config {
	if c.CountdownSeconds <= 0 {
		c.CountdownSeconds = 3
	}
	if c.FeedbackDelay <= 0 {
		c.FeedbackDelay = 1200 * time.Millisecond
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = submit.DefaultTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 250 * time.Millisecond
	}
	if c.Locale == "" {
		c.Locale = format.English
	}
	return c
}

// Explanation is the payload presented after a wrong or timed-out answer.
type Explanation struct {
	QuestionID  string `json:"questionId"`
	CorrectText string `json:"correctText"`
	UserText    string `json:"userText"`
	Body        string `json:"body"`
}

// Snapshot is the read-only view the UI renders from.
type Snapshot struct {
	State            State                 `json:"state"`
	LessonID         string                `json:"lessonId"`
	QuestionIndex    int                   `json:"questionIndex"`
	QuestionCount    int                   `json:"questionCount"`
	Countdown        int                   `json:"countdown,omitempty"`
	RemainingSeconds int                   `json:"remainingSeconds"`
	LastCorrect      *bool                 `json:"lastCorrect,omitempty"`
	Explanation      *Explanation          `json:"explanation,omitempty"`
	Disqualified     bool                  `json:"disqualified,omitempty"`
	DisqualifyReason string                `json:"disqualifyReason,omitempty"`
	Result           *domain.SessionResult `json:"result,omitempty"`
}

// Machine drives one player's play-through of an ExamSession.
type Machine struct {
	clock  Clock
	cfg    Config
	codec  *secure.Codec
	client submit.ResultClient

	mu      sync.Mutex
	session domain.ExamSession
	state   State

	idx       int
	answers   []domain.AnswerRecord
	tally     *scoring.Tally
	coord     *submit.Coordinator
	submitted bool

	deadline     time.Time
	lastRemain   int
	answered     bool
	pending      *Explanation
	lastCorrect  *bool
	countdown    int
	disqualified bool
	dqReason     string
	result       *domain.SessionResult

	// epoch invalidates timer callbacks across retry/quit boundaries.
	epoch  int
	timers []Timer

	subscribers map[chan Snapshot]struct{}
}

// NewMachine builds a machine around a fetched session. The codec grades
// answers; the client carries the final submission.
func NewMachine(session domain.ExamSession, codec *secure.Codec, client submit.ResultClient, cfg Config) *Machine {
	return NewMachineWithClock(session, codec, client, cfg, realClock{})
}

// NewMachineWithClock injects a clock for deterministic tests.
func NewMachineWithClock(session domain.ExamSession, codec *secure.Codec, client submit.ResultClient, cfg Config, clock Clock) *Machine {
	cfg = cfg.withDefaults()
	return &Machine{
		clock:       clock,
		cfg:         cfg,
		codec:       codec,
		client:      client,
		session:     session,
		state:       StateLobby,
		tally:       scoring.NewTally(session, codec.Validate),
		coord:       submit.NewCoordinator(client, cfg.SubmitTimeout),
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// StartGame begins the pre-game countdown. Valid only in Lobby.
func (m *Machine) StartGame() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateLobby {
		return domain.ErrNotInLobby
	}
	m.state = StateCountdown
	m.countdown = m.cfg.CountdownSeconds
	m.broadcastLocked()
	m.armLocked(time.Second, m.onCountdownTick)
	return nil
}

func (m *Machine) onCountdownTick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCountdown {
		return
	}
	m.countdown--
	if m.countdown <= 0 {
		m.enterQuestionLocked(0)
		return
	}
	m.broadcastLocked()
	m.armLocked(time.Second, m.onCountdownTick)
}

func (m *Machine) enterQuestionLocked(i int) {
	// An exam with no questions has nothing to play; go straight to the
	// submission race so the run still ends in Finished with a result.
	if len(m.session.Questions) == 0 {
		m.enterAnalyzingLocked()
		return
	}
	m.stopTimersLocked()
	m.state = StatePlaying
	m.idx = i
	m.answered = false
	m.pending = nil
	m.lastCorrect = nil
	limit := time.Duration(m.session.QuestionSeconds()) * time.Second
	m.deadline = m.clock.Now().Add(limit)
	m.lastRemain = m.remainingLocked()
	m.broadcastLocked()
	m.armLocked(m.cfg.TickInterval, m.onQuestionTick)
}

// onQuestionTick recomputes remaining time against the wall-clock deadline
// rather than decrementing a counter, so scheduling delay or suspension
// cannot desynchronize the timer from the real deadline.
func (m *Machine) onQuestionTick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePlaying || m.answered || m.pending != nil {
		return
	}
	remaining := m.remainingLocked()
	if remaining <= 0 && !m.clock.Now().Before(m.deadline) {
		m.handleAnswerLocked(nil, true)
		return
	}
	if remaining != m.lastRemain {
		m.lastRemain = remaining
		m.broadcastLocked()
	}
	m.armLocked(m.cfg.TickInterval, m.onQuestionTick)
}

func (m *Machine) remainingLocked() int {
	secs := m.deadline.Sub(m.clock.Now()).Seconds()
	if secs < 0 {
		return 0
	}
	return int(math.Ceil(secs))
}

// HandleAnswer grades the player's answer for the current question.
func (m *Machine) HandleAnswer(raw *domain.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePlaying {
		return domain.ErrNotPlaying
	}
	m.handleAnswerLocked(raw, false)
	return nil
}

// handleAnswerLocked records exactly one AnswerRecord and one verdict per
// question. The answered guard drops a second user call for the same
// question; the timeout path only arrives through the question tick, which
// never fires once the guard is set.
func (m *Machine) handleAnswerLocked(raw *domain.Answer, isTimeout bool) {
	if m.answered || m.pending != nil {
		return
	}
	m.answered = true
	// Freeze the displayed clock at the moment the verdict lands; the
	// deadline keeps decaying but must not show through the pause.
	m.lastRemain = m.remainingLocked()

	q := m.session.Questions[m.idx]
	if isTimeout {
		raw = nil
	}
	m.answers = append(m.answers, domain.AnswerRecord{QuestionID: q.ID, RawAnswer: raw})
	correct := m.tally.Record(q, raw, isTimeout)
	m.lastCorrect = &correct

	// Fire the submission as soon as the last answer is known, not when
	// the UI reaches the result screen; the round trip overlaps the final
	// feedback pause.
	if m.idx == len(m.session.Questions)-1 {
		m.submitLocked()
	}

	if correct {
		m.broadcastLocked()
		m.armLocked(m.cfg.FeedbackDelay, m.onFeedbackDone)
		return
	}

	// Wrong or timed out: freeze the clock and wait for an explicit
	// continue before advancing.
	m.pending = m.buildExplanationLocked(q, raw)
	m.broadcastLocked()
}

func (m *Machine) onFeedbackDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePlaying || !m.answered || m.pending != nil {
		return
	}
	m.advanceLocked()
}

func (m *Machine) buildExplanationLocked(q domain.Question, raw *domain.Answer) *Explanation {
	exp := &Explanation{
		QuestionID: q.ID,
		UserText:   format.DescribeUser(q, raw, m.cfg.Locale),
		Body:       q.Explanation,
	}
	// An undecryptable or absent blob leaves the correct text empty; the
	// failure stays contained to this one card.
	if canonical, ok := m.codec.Canonical(q.SecureAnswer, q.Kind); ok {
		exp.CorrectText = format.DescribeCorrect(q, canonical, m.cfg.Locale)
	}
	return exp
}

// Continue acknowledges a presented explanation and advances.
func (m *Machine) Continue() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePlaying || m.pending == nil {
		return domain.ErrNoExplanation
	}
	m.pending = nil
	m.advanceLocked()
	return nil
}

func (m *Machine) advanceLocked() {
	if m.idx >= len(m.session.Questions)-1 {
		m.enterAnalyzingLocked()
		return
	}
	m.enterQuestionLocked(m.idx + 1)
}

func (m *Machine) submitLocked() {
	if m.submitted {
		return
	}
	m.submitted = true
	m.coord.Submit(m.session.LessonID, m.answers)
}

func (m *Machine) enterAnalyzingLocked() {
	m.stopTimersLocked()
	m.state = StateAnalyzing
	m.submitLocked()
	m.broadcastLocked()

	coord, tally, epoch := m.coord, m.tally, m.epoch
	go func() {
		result := coord.Resolve(tally.LocalFallback)
		m.finish(epoch, result)
	}()
}

func (m *Machine) finish(epoch int, result domain.SessionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch || m.state != StateAnalyzing {
		return
	}
	m.result = &result
	m.state = StateFinished
	m.broadcastLocked()
}

// Disqualify records an externally detected policy violation (app
// backgrounding, screen capture). The engine never detects these itself.
// Mid-game it forces the play-through straight to Analyzing with whatever
// answers exist; explanation and advance logic are bypassed.
func (m *Machine) Disqualify(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disqualified = true
	m.dqReason = reason
	if m.state == StatePlaying || m.state == StateCountdown {
		m.pending = nil
		m.enterAnalyzingLocked()
	}
}

// Retry resets everything for a fresh play-through. The caller owns the
// fresh session fetch; the old session is discarded wholesale.
func (m *Machine) Retry(fresh domain.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFinished {
		return domain.ErrNotFinished
	}
	m.epoch++
	m.stopTimersLocked()
	m.session = fresh
	m.idx = 0
	m.answers = nil
	m.tally.Reset(fresh)
	m.coord = submit.NewCoordinator(m.client, m.cfg.SubmitTimeout)
	m.submitted = false
	m.answered = false
	m.pending = nil
	m.lastCorrect = nil
	m.disqualified = false
	m.dqReason = ""
	m.result = nil
	m.state = StateLobby
	m.broadcastLocked()
	return nil
}

// Quit tears the play-through down immediately. An in-flight submission is
// abandoned, not cancelled; a late response is simply discarded.
func (m *Machine) Quit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateFinished {
		return
	}
	m.epoch++
	m.stopTimersLocked()
	m.pending = nil
	m.state = StateFinished
	m.broadcastLocked()
}

// Snapshot returns the current read-only view.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel of snapshots, starting with the current one.
// The caller must invoke the returned cancel function to avoid leaks.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	// Registering and sending the first snapshot under the same lock keeps
	// it ordered before any broadcast; the fresh buffered channel cannot
	// block here.
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:            m.state,
		LessonID:         m.session.LessonID,
		QuestionIndex:    m.idx,
		QuestionCount:    len(m.session.Questions),
		Disqualified:     m.disqualified,
		DisqualifyReason: m.dqReason,
		LastCorrect:      m.lastCorrect,
		Explanation:      m.pending,
		Result:           m.result,
	}
	switch m.state {
	case StateCountdown:
		snap.Countdown = m.countdown
	case StatePlaying:
		if m.answered {
			snap.RemainingSeconds = m.lastRemain
		} else {
			snap.RemainingSeconds = m.remainingLocked()
		}
	}
	return snap
}

func (m *Machine) broadcastLocked() {
	snap := m.snapshotLocked()
	for ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the stale update so a slow consumer cannot block the
			// machine's timers.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (m *Machine) armLocked(d time.Duration, f func()) {
	epoch := m.epoch
	timer := m.clock.AfterFunc(d, func() {
		m.mu.Lock()
		stale := m.epoch != epoch
		m.mu.Unlock()
		if stale {
			return
		}
		f()
	})
	m.timers = append(m.timers, timer)
}

func (m *Machine) stopTimersLocked() {
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = m.timers[:0]
}
