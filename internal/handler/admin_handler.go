package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-insights-bridge/internal/dto"
	"github.com/noah-isme/course-insights-bridge/pkg/response"
)

const saltRotationWarning = "previously issued pseudonyms no longer match; the analytics service will see every student as new"

type saltRotator interface {
	RegenerateSalt(ctx context.Context) (string, error)
}

// AdminHandler exposes administrative operations.
type AdminHandler struct {
	salts saltRotator
	now   func() time.Time
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(salts saltRotator) *AdminHandler {
	return &AdminHandler{salts: salts, now: time.Now}
}

// RotateSalt godoc
// @Summary Rotate the anonymization salt
// @Description Breaks continuity of every pseudonym previously sent to the analytics service.
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/salt/rotate [post]
func (h *AdminHandler) RotateSalt(c *gin.Context) {
	if _, err := h.salts.RegenerateSalt(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SaltRotationResponse{
		RotatedAt: h.now().UTC(),
		Warning:   saltRotationWarning,
	})
}
