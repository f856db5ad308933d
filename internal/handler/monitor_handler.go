package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const keepAliveInterval = 30 * time.Second

// Subscriber delivers live session events: every event of an assessment,
// or the finalization of a single session.
type Subscriber interface {
	Subscribe(ctx context.Context, assessmentID uuid.UUID) (<-chan model.SessionEvent, func(), error)
	SubscribeSession(ctx context.Context, sessionID uuid.UUID) (<-chan model.SessionEvent, func(), error)
}

type MonitorHandler struct {
	orch      *service.Orchestrator
	sub       Subscriber
	keepAlive time.Duration
	log       zerolog.Logger
}

func NewMonitorHandler(orch *service.Orchestrator, sub Subscriber, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		orch:      orch,
		sub:       sub,
		keepAlive: keepAliveInterval,
		log:       log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorAssessmentSSE godoc
// GET /api/v1/proctor/assessments/:assessment_id/monitor
// Sends a roster snapshot, then every published session event.
func (h *MonitorHandler) MonitorAssessmentSSE(c *gin.Context) {
	assessmentID, ok := parseID(c, "assessment_id")
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	// Subscribe before reading the roster so no event falls in between.
	events, cancel, err := h.sub.Subscribe(reqCtx, assessmentID)
	if err != nil {
		h.log.Error().Err(err).Str("assessment_id", assessmentID.String()).Msg("Subscribe failed")
		response.FailWithDetails(c, http.StatusServiceUnavailable, response.ErrRetryLater, map[string]interface{}{"retryable": true})
		return
	}
	defer cancel()

	snapshot, err := h.orch.MonitorSnapshot(reqCtx, assessmentID)
	if err != nil {
		failService(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	h.log.Info().Str("assessment_id", assessmentID.String()).Msg("Proctor attached to live monitor")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("assessment_id", assessmentID.String()).Msg("Proctor detached from live monitor")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"type": "ping"})
			c.Writer.Flush()
		}
	}
}
