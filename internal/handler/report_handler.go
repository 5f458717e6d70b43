package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-insights-bridge/internal/dto"
	"github.com/noah-isme/course-insights-bridge/internal/models"
	"github.com/noah-isme/course-insights-bridge/internal/service"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
	"github.com/noah-isme/course-insights-bridge/pkg/response"
)

type reportTrigger interface {
	Enqueue(ctx context.Context, courseID int64, req dto.ReportRequest, caller *models.JWTClaims) (*dto.ReportQueuedResponse, error)
	RunNow(ctx context.Context, courseID int64, req dto.ReportRequest, caller *models.JWTClaims) (*service.ReportResult, error)
}

type reportQueries interface {
	Get(ctx context.Context, id string, caller *models.JWTClaims) (*dto.ReportStatusResponse, error)
	ListByCourse(ctx context.Context, courseID int64, limit int, caller *models.JWTClaims) ([]dto.ReportStatusResponse, error)
	ListByStatus(ctx context.Context, status models.ReportStatus, limit int) ([]dto.ReportStatusResponse, error)
}

// ReportHandler exposes report triggering and status endpoints.
type ReportHandler struct {
	trigger reportTrigger
	reports reportQueries
}

// NewReportHandler constructs handler.
func NewReportHandler(trigger reportTrigger, reports reportQueries) *ReportHandler {
	return &ReportHandler{trigger: trigger, reports: reports}
}

// Enqueue godoc
// @Summary Queue a course report
// @Tags Reports
// @Accept json
// @Produce json
// @Param courseId path int true "Course ID"
// @Param payload body dto.ReportRequest false "Report options"
// @Success 202 {object} response.Envelope
// @Router /courses/{courseId}/reports [post]
func (h *ReportHandler) Enqueue(c *gin.Context) {
	courseID, req, ok := h.bind(c)
	if !ok {
		return
	}
	queued, err := h.trigger.Enqueue(c.Request.Context(), courseID, req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, queued)
}

// RunNow godoc
// @Summary Build and deliver a course report synchronously
// @Tags Reports
// @Accept json
// @Produce json
// @Param courseId path int true "Course ID"
// @Param payload body dto.ReportRequest false "Report options"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/reports/run [post]
func (h *ReportHandler) RunNow(c *gin.Context) {
	courseID, req, ok := h.bind(c)
	if !ok {
		return
	}
	result, err := h.trigger.RunNow(c.Request.Context(), courseID, req, claimsFromContext(c))
	if result == nil {
		if err == nil {
			err = appErrors.ErrInternal
		}
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{"success": result.Success}
	if err != nil {
		meta["error"] = appErrors.FromError(err).Message
	}
	response.JSON(c, http.StatusOK, result, meta)
}

// ListByCourse godoc
// @Summary List recent reports for a course
// @Tags Reports
// @Produce json
// @Param courseId path int true "Course ID"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/reports [get]
func (h *ReportHandler) ListByCourse(c *gin.Context) {
	courseID, err := courseIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	reports, err := h.reports.ListByCourse(c.Request.Context(), courseID, parseQueryInt(c, "limit", 20), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reports, map[string]interface{}{"count": len(reports)})
}

// Get godoc
// @Summary Get a report run
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	report, err := h.reports.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report)
}

// ListByStatus godoc
// @Summary List reports in a given status
// @Tags Reports
// @Produce json
// @Param status query string true "pending, sending, sent or failed"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /reports [get]
func (h *ReportHandler) ListByStatus(c *gin.Context) {
	status := models.ReportStatus(strings.ToLower(strings.TrimSpace(c.Query("status"))))
	if !status.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "status must be one of pending, sending, sent, failed"))
		return
	}
	reports, err := h.reports.ListByStatus(c.Request.Context(), status, parseQueryInt(c, "limit", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reports, map[string]interface{}{"count": len(reports)})
}

// bind reads the course id and the optional JSON body. An empty body selects every
// default.
func (h *ReportHandler) bind(c *gin.Context) (int64, dto.ReportRequest, bool) {
	var req dto.ReportRequest
	courseID, err := courseIDParam(c)
	if err != nil {
		response.Error(c, err)
		return 0, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid report payload"))
		return 0, req, false
	}
	return courseID, req, true
}
