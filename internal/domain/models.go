package domain

// QuestionKind discriminates the graded question types and the shape of
// their canonical answers.
type QuestionKind string

const (
	SingleChoice QuestionKind = "single_choice"
	MultiChoice  QuestionKind = "multi_choice"
	TrueFalse    QuestionKind = "true_false"
	YesNo        QuestionKind = "yes_no"
	Ordering     QuestionKind = "ordering"
	Matching     QuestionKind = "matching"
)

// Option is an id+text entry used for choice options, ordering items and
// matching columns alike.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is one graded item of an exam.
type Question struct {
	ID       string       `json:"id"`
	Kind     QuestionKind `json:"kind"`
	Prompt   string       `json:"prompt"`
	ImageURL string       `json:"imageUrl,omitempty"`
	// Ghost is a hidden anti-scrape marker mixed into rendered content.
	// Cosmetic only; the engine carries it through untouched.
	Ghost string `json:"ghost,omitempty"`

	Options    []Option `json:"options,omitempty"`
	Items      []Option `json:"items,omitempty"`
	LeftItems  []Option `json:"leftItems,omitempty"`
	RightItems []Option `json:"rightItems,omitempty"`

	Explanation string `json:"explanation,omitempty"`
	// SecureAnswer is the encrypted canonical answer ("ivHex:cipherHex").
	// Empty means no canonical answer shipped for this question.
	SecureAnswer string `json:"secureAnswer,omitempty"`

	Points int `json:"points"` // defaults to 10 if zero
}

// Weight returns the question's point weight, applying the default.
func (q Question) Weight() int {
	if q.Points <= 0 {
		return 10
	}
	return q.Points
}

// ExamSession is the fixed, ordered question set for one play-through.
// Immutable once fetched; a retry gets a fresh one.
type ExamSession struct {
	LessonID                    string     `json:"lessonId"`
	TimeLimitPerQuestionSeconds int        `json:"timeLimitPerQuestionSeconds"` // defaults to 15 if zero
	Questions                   []Question `json:"questions"`
}

// QuestionSeconds returns the per-question time limit, applying the default.
func (s ExamSession) QuestionSeconds() int {
	if s.TimeLimitPerQuestionSeconds <= 0 {
		return 15
	}
	return s.TimeLimitPerQuestionSeconds
}

// MaxPossibleScore is the sum of all question weights.
func (s ExamSession) MaxPossibleScore() int {
	total := 0
	for _, q := range s.Questions {
		total += q.Weight()
	}
	return total
}

// Answer is a raw user answer, shaped by the question kind: Value for the
// scalar kinds, Values for MultiChoice and Ordering, Pairs for Matching.
type Answer struct {
	Value  string            `json:"value,omitempty"`
	Values []string          `json:"values,omitempty"`
	Pairs  map[string]string `json:"pairs,omitempty"`
}

// CanonicalAnswer is the decrypted, kind-shaped correct answer.
type CanonicalAnswer struct {
	Kind   QuestionKind
	Value  string
	Values []string
	Pairs  map[string]string
}

// AnswerRecord pairs a question with the raw answer the player produced.
// RawAnswer is nil when the question timed out. Records accumulate in
// strict question order and form the submission payload.
type AnswerRecord struct {
	QuestionID string  `json:"questionId"`
	RawAnswer  *Answer `json:"rawAnswer"`
}

// MasteryChange reports a per-skill mastery delta from the server result.
type MasteryChange struct {
	SkillID string  `json:"skillId"`
	Delta   float64 `json:"delta"`
}

// SessionResult is the final score of a play-through: either the server's
// authoritative payload or the deterministic local fallback.
type SessionResult struct {
	Score          float64         `json:"score"`
	MaxScore       float64         `json:"maxScore"`
	Percentage     int             `json:"percentage"`
	CoinsEarned    int             `json:"coinsEarned,omitempty"`
	MasteryChanges []MasteryChange `json:"masteryChanges,omitempty"`
	Authoritative  bool            `json:"authoritative"`
}

// WellFormed reports whether a server payload is usable as-is. Anything
// else is treated like a timeout and replaced by the local fallback.
func (r SessionResult) WellFormed() bool {
	return r.MaxScore > 0 && r.Score >= 0 && r.Score <= r.MaxScore &&
		r.Percentage >= 0 && r.Percentage <= 100
}
