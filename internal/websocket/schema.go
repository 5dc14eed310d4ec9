package websocket

import "github.com/stemsi/exstem-attempt/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSave   Action = "save"
	ActionSubmit Action = "submit"
	ActionReport Action = "report"
	ActionPing   Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// SaveRequest replaces the attempt's answer set. SessionToken, when set,
// overrides the credential given at connect time.
type SaveRequest struct {
	Action       Action              `json:"action"`
	SessionToken string              `json:"session_token"`
	Answers      []model.AnswerInput `json:"answers" binding:"omitempty,max=500,uniqueanswers,dive"`
}

// SubmitRequest finishes the attempt, optionally with a final answer set.
type SubmitRequest struct {
	Action       Action              `json:"action"`
	SessionToken string              `json:"session_token"`
	Answers      []model.AnswerInput `json:"answers" binding:"omitempty,max=500,uniqueanswers,dive"`
}

// ReportRequest carries one proctoring signal.
type ReportRequest struct {
	Action       Action                 `json:"action"`
	SessionToken string                 `json:"session_token"`
	Type         model.ProctorEventType `json:"type" binding:"required,oneof=tab_switch fullscreen_exit"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSaved         Event = "saved"
	EventSubmitted     Event = "submitted"
	EventAutoSubmitted Event = "auto_submitted"
	EventReported      Event = "reported"
	EventPong          Event = "pong"
	EventError         Event = "error"
)

// EventResponse wraps every successful reply.
type EventResponse struct {
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

// ErrorResponse reports a rejected message. The connection stays open.
type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
