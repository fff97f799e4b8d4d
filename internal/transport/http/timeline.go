package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

type TimelineReader interface {
	ActiveTimelines(ctx context.Context) ([]domain.TimelineWithDevice, error)
	TimelineHistory(ctx context.Context) ([]domain.TimelineWithDevice, error)
	TimelineDetail(ctx context.Context, timelineID string) ([]domain.Location, error)
}

type TimelineHandler struct {
	Timelines TimelineReader
}

func NewTimelineHandler(timelines TimelineReader) *TimelineHandler {
	return &TimelineHandler{Timelines: timelines}
}

// GetHistory returns finished timelines with their devices, newest first.
func (h *TimelineHandler) GetHistory(c *gin.Context) {
	data, err := h.Timelines.TimelineHistory(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if data == nil {
		data = []domain.TimelineWithDevice{}
	}
	ok(c, "Timelines retrieved", data)
}

func (h *TimelineHandler) GetActive(c *gin.Context) {
	data, err := h.Timelines.ActiveTimelines(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if data == nil {
		data = []domain.TimelineWithDevice{}
	}
	ok(c, "Active timelines retrieved", data)
}

// GetDetail returns the locations of ?timelineId= in replay order.
func (h *TimelineHandler) GetDetail(c *gin.Context) {
	data, err := h.Timelines.TimelineDetail(c.Request.Context(), c.Query("timelineId"))
	if err != nil {
		fail(c, err)
		return
	}
	if data == nil {
		data = []domain.Location{}
	}
	ok(c, "Timeline detail retrieved", data)
}
