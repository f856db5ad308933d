package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// AnalyticsHandler serves post-hoc assessment analytics to proctors.
type AnalyticsHandler struct {
	orch *service.Orchestrator
}

func NewAnalyticsHandler(orch *service.Orchestrator) *AnalyticsHandler {
	return &AnalyticsHandler{orch: orch}
}

// GetCohort godoc
// GET /api/v1/proctor/assessments/:assessment_id/analytics
func (h *AnalyticsHandler) GetCohort(c *gin.Context) {
	assessmentID, ok := parseID(c, "assessment_id")
	if !ok {
		return
	}
	out, err := h.orch.Cohort(c.Request.Context(), assessmentID)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// GetHeatmap godoc
// GET /api/v1/proctor/assessments/:assessment_id/heatmap
// Attribution is time-window based and therefore approximate.
func (h *AnalyticsHandler) GetHeatmap(c *gin.Context) {
	assessmentID, ok := parseID(c, "assessment_id")
	if !ok {
		return
	}
	out, err := h.orch.Heatmap(c.Request.Context(), assessmentID)
	if err != nil {
		failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}
