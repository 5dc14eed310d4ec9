package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates the auto-gradable question kinds.
type QuestionType string

const (
	QuestionTypeSingle    QuestionType = "single"
	QuestionTypeMultiple  QuestionType = "multiple"
	QuestionTypeTrueFalse QuestionType = "truefalse"
)

// Option is one answer choice. Immutable once the exam is published.
type Option struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	IsCorrect bool      `json:"is_correct"`
}

// Question is one exam item with its ordered options.
type Question struct {
	ID           uuid.UUID    `json:"id"`
	Text         string       `json:"text"`
	Type         QuestionType `json:"type"`
	Marks        float64      `json:"marks"`
	NegativeMark float64      `json:"negative_mark"`
	Explanation  string       `json:"explanation,omitempty"`
	Options      []Option     `json:"options"`
}

// Option looks up an option by ID.
func (q Question) Option(id uuid.UUID) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// CorrectOptionIDs returns the IDs of every option flagged correct, in natural order.
func (q Question) CorrectOptionIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, 1)
	for _, o := range q.Options {
		if o.IsCorrect {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// ExamSnapshot is the read-only view of an exam supplied by the content service.
// The attempt engine never mutates it.
type ExamSnapshot struct {
	ID                       uuid.UUID  `json:"id"`
	Title                    string     `json:"title"`
	IsPublished              bool       `json:"is_published"`
	IsActive                 bool       `json:"is_active"`
	StartTime                time.Time  `json:"start_time"`
	EndTime                  time.Time  `json:"end_time"`
	DurationMinutes          int        `json:"duration_minutes"`
	MaxAttempts              int        `json:"max_attempts"`
	ShuffleQuestions         bool       `json:"shuffle_questions"`
	ShuffleOptions           bool       `json:"shuffle_options"`
	NegativeMarking          bool       `json:"negative_marking"`
	DefaultNegativeMarkValue float64    `json:"default_negative_mark_value"`
	PassingMarks             float64    `json:"passing_marks"`
	TotalMarks               float64    `json:"total_marks"`
	ShowResultImmediately    bool       `json:"show_result_immediately"`
	Questions                []Question `json:"questions"`
}

// Question looks up a question by ID.
func (e *ExamSnapshot) Question(id uuid.UUID) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Available reports whether students may take the exam at all.
func (e *ExamSnapshot) Available() bool {
	return e.IsPublished && e.IsActive
}

// OptionForStudent is an option stripped of its correctness flag.
type OptionForStudent struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`
}

// QuestionForStudent is a question without the answer key or explanation,
// sent while an attempt is in progress.
type QuestionForStudent struct {
	ID      uuid.UUID          `json:"id"`
	Text    string             `json:"text"`
	Type    QuestionType       `json:"type"`
	Marks   float64            `json:"marks"`
	Options []OptionForStudent `json:"options"`
}
