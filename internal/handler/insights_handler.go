package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-insights-bridge/internal/dto"
	"github.com/noah-isme/course-insights-bridge/internal/middleware"
	"github.com/noah-isme/course-insights-bridge/internal/models"
	"github.com/noah-isme/course-insights-bridge/internal/service"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
	"github.com/noah-isme/course-insights-bridge/pkg/response"
)

type insightsReader interface {
	Latest(ctx context.Context, courseID int64) (*service.LatestInsights, error)
	Poll(ctx context.Context, reportID string) (*service.LatestInsights, error)
}

type reportLookup interface {
	Get(ctx context.Context, id string, caller *models.JWTClaims) (*dto.ReportStatusResponse, error)
}

// InsightsHandler serves analytics results returned by the AI service.
type InsightsHandler struct {
	insights insightsReader
	reports  reportLookup
}

// NewInsightsHandler constructs the handler.
func NewInsightsHandler(insights insightsReader, reports reportLookup) *InsightsHandler {
	return &InsightsHandler{insights: insights, reports: reports}
}

// Latest godoc
// @Summary Latest insights for a course
// @Tags Insights
// @Produce json
// @Param courseId path int true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/insights [get]
func (h *InsightsHandler) Latest(c *gin.Context) {
	courseID, err := courseIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !claimsFromContext(c).CanAccessCourse(courseID) {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	latest, err := h.insights.Latest(c.Request.Context(), courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, true)
	response.JSON(c, http.StatusOK, latest, middleware.ExtractMeta(c))
}

// Poll godoc
// @Summary Poll the analytics job of a sent report
// @Tags Insights
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id}/insights [get]
func (h *InsightsHandler) Poll(c *gin.Context) {
	reportID := c.Param("id")
	// The lookup enforces course access before anything is sent upstream.
	if _, err := h.reports.Get(c.Request.Context(), reportID, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	latest, err := h.insights.Poll(c.Request.Context(), reportID)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if latest.Pending {
		status = http.StatusAccepted
	}
	response.JSON(c, status, latest)
}
