package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

const (
	defaultHistoryPerPage = 20
	maxDeviceInfoLength   = 512
)

// AttemptHandler serves the student-facing attempt lifecycle.
type AttemptHandler struct {
	sessions    *service.SessionService
	answers     *service.AnswerService
	submissions *service.SubmissionService
	proctor     *service.ProctorService
	results     *service.ResultService
	log         zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(
	sessions *service.SessionService,
	answers *service.AnswerService,
	submissions *service.SubmissionService,
	proctor *service.ProctorService,
	results *service.ResultService,
	log zerolog.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		sessions:    sessions,
		answers:     answers,
		submissions: submissions,
		proctor:     proctor,
		results:     results,
		log:         log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/attempts/start/:exam_id
// Creates a new attempt (201) or resumes the in-progress one (200).
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	res, err := h.sessions.Start(c.Request.Context(), service.StartInput{
		ExamID:     examID,
		StudentID:  claims.UserID,
		IPAddress:  c.ClientIP(),
		DeviceInfo: deviceInfo(c.Request.UserAgent()),
	})
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, res)
}

// deviceInfo caps the user agent at maxDeviceInfoLength bytes without
// leaving a partial UTF-8 sequence, which the device_info column rejects.
func deviceInfo(ua string) string {
	ua = strings.ToValidUTF8(ua, "")
	if len(ua) > maxDeviceInfoLength {
		ua = strings.ToValidUTF8(ua[:maxDeviceInfoLength], "")
	}
	return ua
}

// SaveAnswers godoc
// PUT /api/v1/attempts/:id/save
// Replaces the answer set. Past the deadline the attempt is auto-submitted
// and the outcome is returned under auto_submitted.
func (h *AttemptHandler) SaveAnswers(c *gin.Context) {
	claims, attemptID, ok := h.attemptTarget(c)
	if !ok {
		return
	}

	var req model.SaveAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.answers.Save(c.Request.Context(), service.SaveInput{
		AttemptID:    attemptID,
		StudentID:    claims.UserID,
		SessionToken: req.SessionToken,
		Answers:      req.Answers,
	})
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// SubmitAttempt godoc
// POST /api/v1/attempts/:id/submit
// Grades and finalizes the attempt.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	claims, attemptID, ok := h.attemptTarget(c)
	if !ok {
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.submissions.Submit(c.Request.Context(), service.SubmitInput{
		AttemptID:    attemptID,
		StudentID:    claims.UserID,
		SessionToken: req.SessionToken,
		Answers:      req.Answers,
	})
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// ReportEvent godoc
// POST /api/v1/attempts/:id/report
// Counts one proctoring signal (tab switch or fullscreen exit).
func (h *AttemptHandler) ReportEvent(c *gin.Context) {
	claims, attemptID, ok := h.attemptTarget(c)
	if !ok {
		return
	}

	var req model.ReportEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.proctor.RecordEvent(c.Request.Context(), service.ReportInput{
		AttemptID:    attemptID,
		StudentID:    claims.UserID,
		SessionToken: req.SessionToken,
		Type:         req.Type,
	})
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// GetResult godoc
// GET /api/v1/attempts/:id/result
func (h *AttemptHandler) GetResult(c *gin.Context) {
	claims, attemptID, ok := h.attemptTarget(c)
	if !ok {
		return
	}

	res, err := h.results.GetResult(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// GetHistory godoc
// GET /api/v1/attempts/history?page=&per_page=
// Lists the student's attempts, newest first.
func (h *AttemptHandler) GetHistory(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var q model.HistoryQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = defaultHistoryPerPage
	}

	items, total, err := h.results.History(c.Request.Context(), claims.UserID, q.Page, q.PerPage)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if items == nil {
		items = []service.HistoryItem{}
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": items},
		response.NewPagination(q.Page, q.PerPage, total))
}

// attemptTarget resolves the caller and the :id path parameter, writing the
// failure response itself when either is unusable.
func (h *AttemptHandler) attemptTarget(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, attemptID, true
}
