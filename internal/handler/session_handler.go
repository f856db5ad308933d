package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// SessionHandler handles the candidate-facing session endpoints.
type SessionHandler struct {
	orch *service.Orchestrator
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(orch *service.Orchestrator) *SessionHandler {
	return &SessionHandler{orch: orch}
}

// StartSession godoc
// POST /api/v1/assessments/:assessment_id/sessions
// Creates a session, or returns the caller's in-progress one (200).
func (h *SessionHandler) StartSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	assessmentID, ok := parseID(c, "assessment_id")
	if !ok {
		return
	}

	var req model.StartSessionRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, resumed, err := h.orch.StartSession(c.Request.Context(), assessmentID, userID, req.AccessCode)
	if err != nil {
		failService(c, err)
		return
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{"session": sess, "resumed": resumed})
}

// GetSession godoc
// GET /api/v1/sessions/:session_id
// Returns the session with its questions in session order and recorded answers.
func (h *SessionHandler) GetSession(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}
	view, err := h.orch.Resume(c.Request.Context(), sessionID, userID)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// RecordAnswer godoc
// POST /api/v1/sessions/:session_id/answers
func (h *SessionHandler) RecordAnswer(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	answer, err := h.orch.RecordAnswer(c.Request.Context(), sessionID, userID, service.AnswerInput{
		QuestionID:           questionID,
		SelectedIndex:        *req.SelectedIndex,
		TimeSpentSeconds:     req.TimeSpentSeconds,
		TimeRemainingSeconds: req.TimeRemainingSeconds,
	})
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"answer": answer})
}

// GetAnswers godoc
// GET /api/v1/sessions/:session_id/answers
func (h *SessionHandler) GetAnswers(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}
	answers, err := h.orch.GetAnswers(c.Request.Context(), sessionID, userID)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"answers": answers})
}

// ReportViolation godoc
// POST /api/v1/sessions/:session_id/violations
// Always 202: a lost violation never blocks the candidate.
func (h *SessionHandler) ReportViolation(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}

	recorded := false
	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields == nil {
		recorded = h.orch.ReportViolation(c.Request.Context(), sessionID, userID, model.ViolationType(req.Type), req.Timestamp)
	}
	response.Success(c, http.StatusAccepted, gin.H{"recorded": recorded})
}

// SnapshotTime godoc
// POST /api/v1/sessions/:session_id/time
// Persists the displayed countdown; the stored value never increases.
func (h *SessionHandler) SnapshotTime(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.TimeSnapshotRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	remaining, err := h.orch.SnapshotTime(c.Request.Context(), sessionID, userID, *req.TimeRemainingSeconds)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"time_remaining_seconds": remaining})
}

// CompleteSession godoc
// POST /api/v1/sessions/:session_id/complete
// Idempotent: completing a finalized session returns its stored result.
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.CompleteSessionRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	done, err := h.orch.Complete(c.Request.Context(), sessionID, userID, req.Reason, req.TimeRemainingSeconds)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, done)
}

// ReviewSession godoc
// GET /api/v1/sessions/:session_id/review
func (h *SessionHandler) ReviewSession(c *gin.Context) {
	userID, sessionID, ok := h.target(c)
	if !ok {
		return
	}
	items, err := h.orch.Review(c.Request.Context(), sessionID, userID)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"items": items})
}

func (h *SessionHandler) target(c *gin.Context) (string, uuid.UUID, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return "", uuid.Nil, false
	}
	sessionID, ok := parseID(c, "session_id")
	return userID, sessionID, ok
}

// requireUser returns the authenticated user id or writes 401.
func requireUser(c *gin.Context) (string, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil || claims.UserID() == "" {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return "", false
	}
	return claims.UserID(), true
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
