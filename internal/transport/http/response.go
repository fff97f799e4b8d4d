package http

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

type response struct {
	StatusCode int         `json:"statusCode"`
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
}

func ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, response{StatusCode: http.StatusOK, Success: true, Message: message, Data: data})
}

// fail maps err onto a status code. Validation errors are shown to the
// caller; anything else is logged and reported generically.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		status, message = http.StatusBadRequest, vErr.Error()
	case errors.Is(err, domain.ErrNotConnected):
		status, message = http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, domain.ErrTimelineNotFound):
		status, message = http.StatusNotFound, err.Error()
	default:
		log.Printf("[HTTP] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, response{StatusCode: status, Success: false, Message: message})
}
