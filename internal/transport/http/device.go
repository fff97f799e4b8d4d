package http

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

type PointerReader interface {
	AllPointers(ctx context.Context) ([]domain.Pointer, error)
}

type CommandSender interface {
	SendCommand(deviceID, command string, data json.RawMessage) error
}

type DeviceHandler struct {
	Pointers PointerReader
	// Commands is nil when the broker bridge is disabled.
	Commands CommandSender
}

func NewDeviceHandler(pointers PointerReader, commands CommandSender) *DeviceHandler {
	return &DeviceHandler{Pointers: pointers, Commands: commands}
}

func (h *DeviceHandler) GetPointers(c *gin.Context) {
	pointers, err := h.Pointers.AllPointers(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Pointers retrieved", pointers)
}

type commandRequest struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SendCommand publishes a command to one device over the broker.
func (h *DeviceHandler) SendCommand(c *gin.Context) {
	if h.Commands == nil {
		fail(c, domain.ErrNotConnected)
		return
	}

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if err := h.Commands.SendCommand(c.Param("id"), req.Command, req.Data); err != nil {
		fail(c, err)
		return
	}
	ok(c, "Command sent", gin.H{"deviceId": c.Param("id"), "command": req.Command})
}
