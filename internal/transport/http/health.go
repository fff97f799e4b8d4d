package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	// Connections reports the number of live websocket connections.
	Connections func() int
	// BrokerState reports the bridge state; nil when the bridge is disabled.
	BrokerState func() string
}

func (h *HealthHandler) Health(c *gin.Context) {
	broker := "disabled"
	if h.BrokerState != nil {
		broker = h.BrokerState()
	}
	connections := 0
	if h.Connections != nil {
		connections = h.Connections()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": connections,
		"broker":      broker,
	})
}
