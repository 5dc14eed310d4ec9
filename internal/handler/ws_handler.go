package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
	ws "github.com/stemsi/exstem-attempt/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams save/submit/report calls for one attempt over a single
// connection. Every message goes through the same services as the HTTP routes.
type WSHandler struct {
	answers     *service.AnswerService
	submissions *service.SubmissionService
	proctor     *service.ProctorService
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	answers *service.AnswerService,
	submissions *service.SubmissionService,
	proctor *service.ProctorService,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		answers:     answers,
		submissions: submissions,
		proctor:     proctor,
		log:         log.With().Str("component", "ws_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
	}
}

// wsSession is the per-connection state.
type wsSession struct {
	conn      *websocket.Conn
	attemptID uuid.UUID
	studentID int
	token     string
	log       zerolog.Logger
}

// credential prefers a token carried by the message, so a client can keep
// its connection after a resume rotated the credential.
func (s *wsSession) credential(override string) string {
	if override != "" {
		s.token = override
	}
	return s.token
}

// AttemptStream godoc
// WS /ws/v1/attempts/:id/stream?token=<access token>&session=<session token>
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	ws.Prepare(conn)

	ctx := c.Request.Context()
	sess := &wsSession{
		conn:      conn,
		attemptID: attemptID,
		studentID: claims.UserID,
		token:     c.Query("session"),
		log: logger.FromContext(ctx, h.log).With().
			Int("student_id", claims.UserID).
			Str("attempt_id", attemptID.String()).
			Logger(),
	}
	sess.log.Info().Msg("Student connected")

	for {
		raw, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				sess.log.Debug().Msg("Connection closed")
			}
			return
		}

		if done := h.dispatch(ctx, sess, raw); done {
			return
		}
	}
}

// dispatch handles one message and reports whether the attempt is finalized,
// after which the server closes the stream.
func (h *WSHandler) dispatch(ctx context.Context, sess *wsSession, raw []byte) bool {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.writeFailure(sess, response.ErrInvalidPayload, nil)
		return false
	}

	switch env.Action {
	case ws.ActionPing:
		_ = ws.WriteEvent(sess.conn, ws.EventPong, nil)
		return false
	case ws.ActionSave:
		return h.handleSave(ctx, sess, raw)
	case ws.ActionSubmit:
		return h.handleSubmit(ctx, sess, raw)
	case ws.ActionReport:
		return h.handleReport(ctx, sess, raw)
	default:
		sess.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		h.writeFailure(sess, response.ErrInvalidPayload, map[string]string{"action": "unknown action: " + string(env.Action)})
		return false
	}
}

func (h *WSHandler) handleSave(ctx context.Context, sess *wsSession, raw []byte) bool {
	var req ws.SaveRequest
	if !h.decode(sess, raw, &req) {
		return false
	}

	res, err := h.answers.Save(ctx, service.SaveInput{
		AttemptID:    sess.attemptID,
		StudentID:    sess.studentID,
		SessionToken: sess.credential(req.SessionToken),
		Answers:      req.Answers,
	})
	if err != nil {
		h.writeServiceError(sess, err)
		return false
	}

	if res.AutoSubmitted != nil {
		_ = ws.WriteEvent(sess.conn, ws.EventAutoSubmitted, res.AutoSubmitted)
		return true
	}
	_ = ws.WriteEvent(sess.conn, ws.EventSaved, res)
	return false
}

func (h *WSHandler) handleSubmit(ctx context.Context, sess *wsSession, raw []byte) bool {
	var req ws.SubmitRequest
	if !h.decode(sess, raw, &req) {
		return false
	}

	res, err := h.submissions.Submit(ctx, service.SubmitInput{
		AttemptID:    sess.attemptID,
		StudentID:    sess.studentID,
		SessionToken: sess.credential(req.SessionToken),
		Answers:      req.Answers,
	})
	if err != nil {
		h.writeServiceError(sess, err)
		return false
	}

	event := ws.EventSubmitted
	if res.AutoSubmitted {
		event = ws.EventAutoSubmitted
	}
	_ = ws.WriteEvent(sess.conn, event, res)
	return true
}

func (h *WSHandler) handleReport(ctx context.Context, sess *wsSession, raw []byte) bool {
	var req ws.ReportRequest
	if !h.decode(sess, raw, &req) {
		return false
	}

	res, err := h.proctor.RecordEvent(ctx, service.ReportInput{
		AttemptID:    sess.attemptID,
		StudentID:    sess.studentID,
		SessionToken: sess.credential(req.SessionToken),
		Type:         req.Type,
	})
	if err != nil {
		h.writeServiceError(sess, err)
		return false
	}

	if res.AutoSubmitted != nil {
		_ = ws.WriteEvent(sess.conn, ws.EventAutoSubmitted, res.AutoSubmitted)
		return true
	}
	_ = ws.WriteEvent(sess.conn, ws.EventReported, res)
	return false
}

// decode unmarshals and validates a message, answering with a validation
// error when it does not fit.
func (h *WSHandler) decode(sess *wsSession, raw []byte, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		h.writeFailure(sess, response.ErrInvalidPayload, map[string]string{"detail": err.Error()})
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		h.writeFailure(sess, response.ErrValidation, fields)
		return false
	}
	return true
}

func (h *WSHandler) writeServiceError(sess *wsSession, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		sess.log.Error().Err(err).Msg("Stream message failed")
	} else {
		sess.log.Debug().Err(err).Str("code", string(code)).Msg("Stream message rejected")
	}

	var verr *service.ValidationError
	if errors.As(err, &verr) {
		h.writeFailure(sess, code, verr.Fields)
		return
	}
	h.writeFailure(sess, code, nil)
}

func (h *WSHandler) writeFailure(sess *wsSession, code response.ErrCode, fields map[string]string) {
	if err := ws.WriteError(sess.conn, string(code), response.GetMessage(code), fields); err != nil {
		sess.log.Debug().Err(err).Msg("Write error frame failed")
	}
}
