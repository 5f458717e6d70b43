package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-insights-bridge/internal/middleware"
	"github.com/noah-isme/course-insights-bridge/internal/models"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.Claims(c)
}

func courseIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("courseId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "courseId must be a positive integer")
	}
	return id, nil
}

func parseQueryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
