package arena_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"arena-engine/internal/arena"
	"arena-engine/internal/domain"
	"arena-engine/internal/secure"
)

// fakeClock drives machine timers deterministically from the test.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	fired   bool
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) arena.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
	return !t.fired
}

// Advance moves the clock to now+d, firing due timers in order. Callbacks
// run outside the clock lock so they can schedule follow-up timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.fired = true
		f := next.f
		c.mu.Unlock()
		f()
	}
}

// recordingClient captures what the machine submits.
type recordingClient struct {
	mu      sync.Mutex
	calls   int
	lesson  string
	answers []domain.AnswerRecord
	result  domain.SessionResult
	err     error
}

func (c *recordingClient) SubmitAnswers(_ context.Context, lessonID string, answers []domain.AnswerRecord) (domain.SessionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lesson = lessonID
	c.answers = answers
	return c.result, c.err
}

func (c *recordingClient) snapshot() (int, []domain.AnswerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls, append([]domain.AnswerRecord(nil), c.answers...)
}

var errNetwork = context.DeadlineExceeded

func testSession(t *testing.T, codec *secure.Codec) domain.ExamSession {
	t.Helper()
	seal := func(v any) string {
		blob, err := codec.Encrypt(v)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		return blob
	}
	return domain.ExamSession{
		LessonID:                    "lesson-1",
		TimeLimitPerQuestionSeconds: 15,
		Questions: []domain.Question{
			{
				ID:   "q1",
				Kind: domain.SingleChoice,
				Options: []domain.Option{
					{ID: "o1", Text: "Three"},
					{ID: "o2", Text: "Four"},
				},
				Explanation:  "Two and two make four.",
				SecureAnswer: seal("o2"),
			},
			{
				ID:           "q2",
				Kind:         domain.TrueFalse,
				Explanation:  "It is true.",
				SecureAnswer: seal("true"),
			},
			{
				ID:   "q3",
				Kind: domain.Ordering,
				Items: []domain.Option{
					{ID: "i1", Text: "First"},
					{ID: "i2", Text: "Second"},
				},
				Explanation:  "First comes first.",
				SecureAnswer: seal([]string{"i1", "i2"}),
			},
		},
	}
}

func newTestMachine(t *testing.T, client *recordingClient) (*arena.Machine, *fakeClock, *secure.Codec) {
	t.Helper()
	codec := secure.NewCodec("machine-test-secret")
	clock := newFakeClock()
	cfg := arena.Config{SubmitTimeout: 250 * time.Millisecond}
	m := arena.NewMachineWithClock(testSession(t, codec), codec, client, cfg, clock)
	return m, clock, codec
}

func waitForState(t *testing.T, m *arena.Machine, want arena.State) arena.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := m.Snapshot()
		if snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("machine never reached %s, stuck at %s", want, m.Snapshot().State)
	return arena.Snapshot{}
}

func startPlaying(t *testing.T, m *arena.Machine, clock *fakeClock) {
	t.Helper()
	if err := m.StartGame(); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(3 * time.Second)
	if snap := m.Snapshot(); snap.State != arena.StatePlaying {
		t.Fatalf("expected playing after countdown, got %s", snap.State)
	}
}

func TestCountdownTicksToPlaying(t *testing.T) {
	m, clock, _ := newTestMachine(t, &recordingClient{err: errNetwork})

	if err := m.StartGame(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap := m.Snapshot(); snap.State != arena.StateCountdown || snap.Countdown != 3 {
		t.Fatalf("expected countdown 3, got %+v", snap)
	}

	clock.Advance(time.Second)
	if snap := m.Snapshot(); snap.Countdown != 2 {
		t.Fatalf("expected countdown 2, got %d", snap.Countdown)
	}
	clock.Advance(time.Second)
	if snap := m.Snapshot(); snap.Countdown != 1 {
		t.Fatalf("expected countdown 1, got %d", snap.Countdown)
	}
	clock.Advance(time.Second)
	snap := m.Snapshot()
	if snap.State != arena.StatePlaying || snap.QuestionIndex != 0 {
		t.Fatalf("expected playing at q0, got %+v", snap)
	}
	if snap.RemainingSeconds != 15 {
		t.Fatalf("expected 15s on the clock, got %d", snap.RemainingSeconds)
	}

	// Starting again mid-game is rejected.
	if err := m.StartGame(); err != domain.ErrNotInLobby {
		t.Fatalf("expected ErrNotInLobby, got %v", err)
	}
}

func TestTimerRecomputesFromDeadline(t *testing.T) {
	m, clock, _ := newTestMachine(t, &recordingClient{err: errNetwork})
	startPlaying(t, m, clock)

	// Jump five seconds at once: the displayed timer must track the
	// deadline, not a per-tick decrement.
	clock.Advance(5 * time.Second)
	if snap := m.Snapshot(); snap.RemainingSeconds != 10 {
		t.Fatalf("expected 10s remaining, got %d", snap.RemainingSeconds)
	}
}

func TestEmptyExamFinishesWithoutPlaying(t *testing.T) {
	codec := secure.NewCodec("machine-test-secret")
	clock := newFakeClock()
	client := &recordingClient{err: errNetwork}
	m := arena.NewMachineWithClock(domain.ExamSession{LessonID: "empty"}, codec, client,
		arena.Config{SubmitTimeout: 250 * time.Millisecond}, clock)

	if err := m.StartGame(); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Nothing to play: the countdown must land in the submission race, not
	// on a question that does not exist.
	clock.Advance(3 * time.Second)
	clock.Advance(time.Minute)

	snap := waitForState(t, m, arena.StateFinished)
	if snap.Result == nil || snap.Result.Score != 0 || snap.Result.MaxScore != 20 {
		t.Fatalf("expected empty-run fallback 0/20, got %+v", snap.Result)
	}
	_, answers := client.snapshot()
	if len(answers) != 0 {
		t.Fatalf("expected no answer records, got %d", len(answers))
	}
}

func TestSnapshotFreezesClockDuringExplanation(t *testing.T) {
	m, clock, _ := newTestMachine(t, &recordingClient{err: errNetwork})
	startPlaying(t, m, clock)

	clock.Advance(5 * time.Second)
	if err := m.HandleAnswer(&domain.Answer{Value: "o1"}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if snap := m.Snapshot(); snap.Explanation == nil {
		t.Fatalf("expected explanation after wrong answer")
	}

	// The deadline keeps decaying underneath, but the displayed clock must
	// hold the value it had when the verdict landed.
	clock.Advance(30 * time.Second)
	if snap := m.Snapshot(); snap.RemainingSeconds != 10 {
		t.Fatalf("expected clock pinned at 10s, got %d", snap.RemainingSeconds)
	}
}

func TestEndToEndScenario(t *testing.T) {
	client := &recordingClient{err: errNetwork}
	m, clock, _ := newTestMachine(t, client)
	startPlaying(t, m, clock)

	// Q1 answered correctly.
	if err := m.HandleAnswer(&domain.Answer{Value: "o2"}); err != nil {
		t.Fatalf("answer q1: %v", err)
	}
	snap := m.Snapshot()
	if snap.LastCorrect == nil || !*snap.LastCorrect {
		t.Fatalf("expected correct verdict, got %+v", snap)
	}
	clock.Advance(1200 * time.Millisecond) // feedback pause
	if snap := m.Snapshot(); snap.QuestionIndex != 1 {
		t.Fatalf("expected q1 -> q2 advance, got index %d", snap.QuestionIndex)
	}

	// Q2 answered incorrectly: explanation shown, clock frozen.
	if err := m.HandleAnswer(&domain.Answer{Value: "false"}); err != nil {
		t.Fatalf("answer q2: %v", err)
	}
	snap = m.Snapshot()
	if snap.Explanation == nil {
		t.Fatalf("expected explanation after wrong answer")
	}
	if snap.Explanation.CorrectText != "True" || snap.Explanation.UserText != "False" {
		t.Fatalf("unexpected explanation texts: %+v", snap.Explanation)
	}
	if snap.Explanation.Body != "It is true." {
		t.Fatalf("unexpected explanation body: %q", snap.Explanation.Body)
	}
	// Time keeps passing while the explanation is up; nothing must expire.
	clock.Advance(30 * time.Second)
	if snap := m.Snapshot(); snap.QuestionIndex != 1 || snap.State != arena.StatePlaying {
		t.Fatalf("explanation pause must freeze the game, got %+v", snap)
	}
	if err := m.Continue(); err != nil {
		t.Fatalf("continue: %v", err)
	}

	// Q3 times out.
	if snap := m.Snapshot(); snap.QuestionIndex != 2 {
		t.Fatalf("expected q3, got index %d", snap.QuestionIndex)
	}
	clock.Advance(15 * time.Second)
	snap = m.Snapshot()
	if snap.Explanation == nil || snap.Explanation.UserText != "Time ran out" {
		t.Fatalf("expected timed-out explanation, got %+v", snap.Explanation)
	}
	if err := m.Continue(); err != nil {
		t.Fatalf("continue after timeout: %v", err)
	}

	// Network is down, so the deterministic local fallback decides.
	snap = waitForState(t, m, arena.StateFinished)
	if snap.Result == nil {
		t.Fatalf("finished without result")
	}
	if snap.Result.Score != 6.5 || snap.Result.MaxScore != 20 {
		t.Fatalf("expected local fallback 6.5/20, got %+v", snap.Result)
	}
	if snap.Result.Authoritative {
		t.Fatalf("fallback result must not claim authority")
	}

	calls, answers := client.snapshot()
	if calls != 1 {
		t.Fatalf("expected one submission, got %d", calls)
	}
	if len(answers) != 3 {
		t.Fatalf("expected 3 answer records, got %d", len(answers))
	}
	if answers[0].QuestionID != "q1" || answers[1].QuestionID != "q2" || answers[2].QuestionID != "q3" {
		t.Fatalf("records out of order: %+v", answers)
	}
	if answers[2].RawAnswer != nil {
		t.Fatalf("timeout record must carry a nil answer, got %+v", answers[2].RawAnswer)
	}
}

func TestAuthoritativeResultWins(t *testing.T) {
	client := &recordingClient{
		result: domain.SessionResult{Score: 18, MaxScore: 20, Percentage: 90, CoinsEarned: 5},
	}
	m, clock, _ := newTestMachine(t, client)
	startPlaying(t, m, clock)

	for i := 0; i < 3; i++ {
		answers := []*domain.Answer{
			{Value: "o2"},
			{Value: "true"},
			{Values: []string{"i1", "i2"}},
		}
		if err := m.HandleAnswer(answers[i]); err != nil {
			t.Fatalf("answer q%d: %v", i+1, err)
		}
		clock.Advance(1200 * time.Millisecond)
	}

	snap := waitForState(t, m, arena.StateFinished)
	if !snap.Result.Authoritative || snap.Result.Score != 18 || snap.Result.CoinsEarned != 5 {
		t.Fatalf("expected server result verbatim, got %+v", snap.Result)
	}
}

func TestDoubleAnswerRecordsOneVerdict(t *testing.T) {
	client := &recordingClient{err: errNetwork}
	m, clock, _ := newTestMachine(t, client)
	startPlaying(t, m, clock)

	// First call wins; the second, carrying a different answer, is dropped.
	if err := m.HandleAnswer(&domain.Answer{Value: "o2"}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := m.HandleAnswer(&domain.Answer{Value: "o1"}); err != nil {
		t.Fatalf("second answer: %v", err)
	}
	clock.Advance(1200 * time.Millisecond)
	if snap := m.Snapshot(); snap.QuestionIndex != 1 {
		t.Fatalf("expected single advance to q2, got index %d", snap.QuestionIndex)
	}

	// Finish the run and inspect what was submitted.
	m.HandleAnswer(&domain.Answer{Value: "true"})
	clock.Advance(1200 * time.Millisecond)
	m.HandleAnswer(&domain.Answer{Values: []string{"i1", "i2"}})
	clock.Advance(1200 * time.Millisecond)

	snap := waitForState(t, m, arena.StateFinished)
	if snap.Result.Score != 20 {
		t.Fatalf("first answer was correct; expected 20, got %v", snap.Result.Score)
	}
	_, answers := client.snapshot()
	if len(answers) != 3 {
		t.Fatalf("expected 3 records, got %d", len(answers))
	}
	if answers[0].RawAnswer == nil || answers[0].RawAnswer.Value != "o2" {
		t.Fatalf("expected first answer to win, got %+v", answers[0].RawAnswer)
	}
}

func TestDisqualificationForcesAnalyzing(t *testing.T) {
	client := &recordingClient{err: errNetwork}
	m, clock, _ := newTestMachine(t, client)
	startPlaying(t, m, clock)

	m.HandleAnswer(&domain.Answer{Value: "o2"})
	clock.Advance(1200 * time.Millisecond)

	// Backgrounding detected mid-question: no explanation, no advance,
	// straight to the result with a partial answer set.
	m.Disqualify("app_backgrounded")

	snap := waitForState(t, m, arena.StateFinished)
	if !snap.Disqualified || snap.DisqualifyReason != "app_backgrounded" {
		t.Fatalf("expected disqualification surfaced, got %+v", snap)
	}
	if snap.Result == nil {
		t.Fatalf("disqualified run still needs a result")
	}
	_, answers := client.snapshot()
	if len(answers) != 1 {
		t.Fatalf("expected partial answer set of 1, got %d", len(answers))
	}
}

func TestRetryResetsEverything(t *testing.T) {
	client := &recordingClient{err: errNetwork}
	m, clock, codec := newTestMachine(t, client)
	startPlaying(t, m, clock)

	m.HandleAnswer(&domain.Answer{Value: "o2"})
	clock.Advance(1200 * time.Millisecond)
	m.Disqualify("screen_capture")
	waitForState(t, m, arena.StateFinished)

	fresh := testSession(t, codec)
	if err := m.Retry(fresh); err != nil {
		t.Fatalf("retry: %v", err)
	}
	snap := m.Snapshot()
	if snap.State != arena.StateLobby {
		t.Fatalf("retry must re-enter lobby, got %s", snap.State)
	}
	if snap.Result != nil || snap.Disqualified || snap.Explanation != nil {
		t.Fatalf("retry must clear result, flag and explanation: %+v", snap)
	}

	// A clean run from zero: three wrong answers score 0, proving the
	// previous tally did not leak through.
	startPlaying(t, m, clock)
	for i := 0; i < 3; i++ {
		m.HandleAnswer(&domain.Answer{Value: "wrong"})
		if err := m.Continue(); err != nil {
			t.Fatalf("continue: %v", err)
		}
	}
	snap = waitForState(t, m, arena.StateFinished)
	if snap.Result.Score != 0 {
		t.Fatalf("expected clean-slate score 0, got %v", snap.Result.Score)
	}
}

func TestRetryRequiresFinished(t *testing.T) {
	m, clock, codec := newTestMachine(t, &recordingClient{err: errNetwork})
	startPlaying(t, m, clock)

	if err := m.Retry(testSession(t, codec)); err != domain.ErrNotFinished {
		t.Fatalf("expected ErrNotFinished, got %v", err)
	}
}

func TestQuitAbandonsInFlightWork(t *testing.T) {
	m, clock, _ := newTestMachine(t, &recordingClient{err: errNetwork})
	startPlaying(t, m, clock)

	m.Quit()
	snap := m.Snapshot()
	if snap.State != arena.StateFinished || snap.Result != nil {
		t.Fatalf("quit must finish without a result, got %+v", snap)
	}

	// Timers are dead: advancing the clock changes nothing.
	clock.Advance(time.Minute)
	if snap := m.Snapshot(); snap.State != arena.StateFinished {
		t.Fatalf("quit machine moved to %s", snap.State)
	}
}

func TestSubscribeStreamsTransitions(t *testing.T) {
	m, clock, _ := newTestMachine(t, &recordingClient{err: errNetwork})

	updates, cancel := m.Subscribe()
	defer cancel()

	first := <-updates
	if first.State != arena.StateLobby {
		t.Fatalf("expected initial lobby snapshot, got %s", first.State)
	}

	if err := m.StartGame(); err != nil {
		t.Fatalf("start: %v", err)
	}
	next := <-updates
	if next.State != arena.StateCountdown {
		t.Fatalf("expected countdown snapshot, got %s", next.State)
	}

	clock.Advance(3 * time.Second)
	// Drain until the playing snapshot arrives; intermediate countdown
	// ticks may or may not have been dropped.
	deadline := time.After(time.Second)
	for {
		select {
		case snap := <-updates:
			if snap.State == arena.StatePlaying {
				return
			}
		case <-deadline:
			t.Fatalf("never observed playing snapshot")
		}
	}
}

func TestSubscribeInitialSnapshotNeverReordered(t *testing.T) {
	// Race a subscription against a state transition repeatedly: whatever
	// interleaving wins, a subscriber must never receive a newer snapshot
	// followed by the older one.
	for i := 0; i < 50; i++ {
		m, _, _ := newTestMachine(t, &recordingClient{err: errNetwork})

		var updates <-chan arena.Snapshot
		var cancel func()
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			updates, cancel = m.Subscribe()
		}()
		go func() {
			defer wg.Done()
			_ = m.StartGame()
		}()
		wg.Wait()

		first := <-updates
		if first.State == arena.StateCountdown {
			select {
			case snap := <-updates:
				if snap.State == arena.StateLobby {
					t.Fatalf("stale lobby snapshot delivered after countdown")
				}
			default:
			}
		}
		cancel()
	}
}

func TestSubmissionFiresOnLastAnswerNotOnAck(t *testing.T) {
	client := &recordingClient{err: errNetwork}
	m, clock, _ := newTestMachine(t, client)
	startPlaying(t, m, clock)

	m.HandleAnswer(&domain.Answer{Value: "o2"})
	clock.Advance(1200 * time.Millisecond)
	m.HandleAnswer(&domain.Answer{Value: "true"})
	clock.Advance(1200 * time.Millisecond)

	// Wrong final answer: the explanation is still up, unacknowledged,
	// but the submission must already be in flight.
	m.HandleAnswer(&domain.Answer{Values: []string{"i2", "i1"}})

	deadline := time.Now().Add(time.Second)
	for {
		if calls, _ := client.snapshot(); calls == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("submission not fired on last answer")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if snap := m.Snapshot(); snap.State != arena.StatePlaying || snap.Explanation == nil {
		t.Fatalf("explanation should still be pending, got %+v", snap)
	}
}
