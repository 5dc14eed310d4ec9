package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states. Only IN_PROGRESS is mutable.
type AttemptStatus string

const (
	AttemptStatusInProgress    AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted     AttemptStatus = "SUBMITTED"
	AttemptStatusAutoSubmitted AttemptStatus = "AUTO_SUBMITTED"
)

// Finalized reports whether the status is terminal.
func (s AttemptStatus) Finalized() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusAutoSubmitted
}

// Answer is a student's response to one question.
// AnsweredAt is client-reported and kept for audit only.
type Answer struct {
	QuestionID        uuid.UUID   `json:"question_id"`
	SelectedOptionIDs []uuid.UUID `json:"selected_option_ids"`
	IsCorrect         bool        `json:"is_correct"`
	MarksAwarded      float64     `json:"marks_awarded"`
	TimeSpentSeconds  int         `json:"time_spent_seconds"`
	AnsweredAt        time.Time   `json:"answered_at"`
}

// Attempt is one student's timed run at one exam.
type Attempt struct {
	ID        uuid.UUID `json:"id"`
	ExamID    uuid.UUID `json:"exam_id"`
	StudentID int       `json:"student_id"`

	QuestionOrder []uuid.UUID               `json:"question_order"`
	OptionOrder   map[uuid.UUID][]uuid.UUID `json:"option_order"`
	Answers       map[uuid.UUID]Answer      `json:"answers"`

	Status          AttemptStatus `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	SubmittedAt     *time.Time    `json:"submitted_at,omitempty"`
	ServerDeadline  time.Time     `json:"server_deadline"`
	TimeLeftSeconds int           `json:"time_left_seconds"`

	TotalMarks     float64 `json:"total_marks"`
	MarksObtained  float64 `json:"marks_obtained"`
	Percentage     int     `json:"percentage"`
	IsPassed       bool    `json:"is_passed"`
	Rank           *int    `json:"rank,omitempty"`
	CorrectCount   int     `json:"correct_count"`
	IncorrectCount int     `json:"incorrect_count"`
	SkippedCount   int     `json:"skipped_count"`

	TabSwitchCount      int    `json:"tab_switch_count"`
	FullscreenExitCount int    `json:"fullscreen_exit_count"`
	Flagged             bool   `json:"flagged"`
	FlagReason          string `json:"flag_reason,omitempty"`

	// SessionJTI identifies the only session credential currently accepted.
	SessionJTI string `json:"-"`
	IPAddress  string `json:"-"`
	DeviceInfo string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (a *Attempt) Clone() *Attempt {
	c := *a
	c.QuestionOrder = append([]uuid.UUID(nil), a.QuestionOrder...)
	c.OptionOrder = make(map[uuid.UUID][]uuid.UUID, len(a.OptionOrder))
	for k, v := range a.OptionOrder {
		c.OptionOrder[k] = append([]uuid.UUID(nil), v...)
	}
	c.Answers = make(map[uuid.UUID]Answer, len(a.Answers))
	for k, v := range a.Answers {
		v.SelectedOptionIDs = append([]uuid.UUID(nil), v.SelectedOptionIDs...)
		c.Answers[k] = v
	}
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		c.SubmittedAt = &t
	}
	if a.Rank != nil {
		r := *a.Rank
		c.Rank = &r
	}
	return &c
}

// ProctorEventType enumerates the integrity signals a client can report.
type ProctorEventType string

const (
	ProctorEventTabSwitch      ProctorEventType = "tab_switch"
	ProctorEventFullscreenExit ProctorEventType = "fullscreen_exit"
)

// ProctorEvent is the audit record queued for every accepted report.
type ProctorEvent struct {
	AttemptID  string           `json:"attempt_id"`
	ExamID     string           `json:"exam_id"`
	StudentID  int              `json:"student_id"`
	Type       ProctorEventType `json:"type"`
	RecordedAt int64            `json:"recorded_at"`
}

// AnswerInput is one answer as submitted by the client.
type AnswerInput struct {
	QuestionID        uuid.UUID   `json:"question_id" binding:"required"`
	SelectedOptionIDs []uuid.UUID `json:"selected_option_ids" binding:"omitempty,max=50"`
	TimeSpentSeconds  int         `json:"time_spent_seconds" binding:"min=0"`
	AnsweredAt        *time.Time  `json:"answered_at" binding:"omitempty"`
}

// SaveAnswersRequest is the autosave payload. A nil Answers slice keeps the
// stored set; an empty slice clears it.
type SaveAnswersRequest struct {
	SessionToken string        `json:"session_token" binding:"required"`
	Answers      []AnswerInput `json:"answers" binding:"omitempty,max=500,uniqueanswers,dive"`
}

// SubmitAttemptRequest finalizes the attempt, optionally replacing answers first.
type SubmitAttemptRequest struct {
	SessionToken string        `json:"session_token" binding:"required"`
	Answers      []AnswerInput `json:"answers" binding:"omitempty,max=500,uniqueanswers,dive"`
}

// ReportEventRequest carries a single proctoring signal.
type ReportEventRequest struct {
	SessionToken string           `json:"session_token" binding:"required"`
	Type         ProctorEventType `json:"type" binding:"required,oneof=tab_switch fullscreen_exit"`
}

// HistoryQuery pages through a student's attempts.
type HistoryQuery struct {
	Page    int `form:"page" binding:"omitempty,min=1"`
	PerPage int `form:"per_page" binding:"omitempty,min=1,max=100"`
}
