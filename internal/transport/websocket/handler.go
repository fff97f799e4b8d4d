package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
	"github.com/iamasit07/geo-tracking/backend/internal/service/tracker"
)

const defaultKeepAlive = 30 * time.Second

type Tracker interface {
	ApplyEvent(ctx context.Context, ev domain.LocationEvent) (*tracker.Result, error)
	ActiveTimelines(ctx context.Context) ([]domain.TimelineWithDevice, error)
	TimelineDetail(ctx context.Context, timelineID string) ([]domain.Location, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, p domain.Pointer) error
	AllPointers(ctx context.Context) ([]domain.Pointer, error)
}

// Handler manages WebSocket dependencies
type Handler struct {
	ConnManager *ConnectionManager
	Tracker     Tracker
	Hub         Broadcaster
	Upgrader    websocket.Upgrader
	// KeepAlive is the interval between protocol pings.
	KeepAlive time.Duration

	now func() time.Time
}

// NewHandler builds the handler. An empty allowedOrigins accepts any origin.
func NewHandler(cm *ConnectionManager, tr Tracker, hub Broadcaster, allowedOrigins []string) *Handler {
	return &Handler{
		ConnManager: cm,
		Tracker:     tr,
		Hub:         hub,
		KeepAlive:   defaultKeepAlive,
		now:         func() time.Time { return time.Now().UTC() },
		Upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == origin || o == "*" {
				return true
			}
		}
		log.Printf("[WS] Rejected origin %s", origin)
		return false
	}
}

// HandleWebSocket is the HTTP handler that upgrades the connection
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	protocol := ParseProtocol(r.URL.Query().Get("protocol"))
	h.handleConnection(conn, protocol)
}

// handleConnection manages the lifecycle of a single WebSocket connection
func (h *Handler) handleConnection(conn *websocket.Conn, protocol Protocol) {
	client := NewClient(uuid.NewString(), conn, protocol, h.now())
	h.ConnManager.Add(client)
	log.Printf("[WS] Client connected: %s (protocol=%s, total=%d)", client.ID, protocol, h.ConnManager.Len())

	done := make(chan struct{})
	defer func() {
		close(done)
		h.ConnManager.Remove(client.ID)
		log.Printf("[WS] Client disconnected: %s", client.ID)
	}()

	// Keep-alive pinger
	go func() {
		ticker := time.NewTicker(h.KeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := client.Ping(); err != nil {
					return
				}
			}
		}
	}()

	client.Send(domain.ServerEvent{
		Name: domain.EventConnected,
		Data: domain.Welcome{ClientID: client.ID, Protocol: string(protocol), Timestamp: h.now()},
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Client %s disconnected unexpectedly: %v", client.ID, err)
			}
			return
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			log.Printf("[WS] Invalid message format from %s: %v", client.ID, err)
			continue
		}

		if !h.ConnManager.Touch(client.ID, "", h.now()) {
			// Reaped while the frame was in flight.
			return
		}
		h.processMessage(context.Background(), client, msg)
	}
}

// processMessage routes specific actions
func (h *Handler) processMessage(ctx context.Context, client *Client, msg domain.ClientMessage) {
	switch msg.Event {
	case domain.MessageLocationUpdate:
		h.handleLocationUpdate(ctx, client, msg.Data)

	case domain.MessagePong:
		var pong domain.PongMessage
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &pong); err != nil {
				log.Printf("[WS] Invalid pong from %s: %v", client.ID, err)
				return
			}
		}
		h.ConnManager.Touch(client.ID, pong.DeviceID, h.now())

	case domain.MessageGetPointers:
		pointers, err := h.Hub.AllPointers(ctx)
		if err != nil {
			log.Printf("[WS] Failed to load pointers: %v", err)
			client.Send(errorAck(err))
			return
		}
		client.Send(domain.ServerEvent{Name: domain.EventPointers, Data: pointers})

	case domain.MessageActiveTimeline:
		timelines, err := h.Tracker.ActiveTimelines(ctx)
		if err != nil {
			log.Printf("[WS] Failed to load active timelines: %v", err)
			client.Send(errorAck(err))
			return
		}
		if timelines == nil {
			timelines = []domain.TimelineWithDevice{}
		}
		client.Send(domain.ServerEvent{Name: domain.EventActiveTimeline, Data: timelines})

	case domain.MessageDetailActivity:
		var req domain.DetailActivityRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				client.Send(errorAck(&domain.ValidationError{Field: "payload", Reason: err.Error()}))
				return
			}
		}
		locations, err := h.Tracker.TimelineDetail(ctx, req.TimelineID)
		if err != nil {
			log.Printf("[WS] Failed to load timeline %s: %v", req.TimelineID, err)
			client.Send(errorAck(err))
			return
		}
		if locations == nil {
			locations = []domain.Location{}
		}
		client.Send(domain.ServerEvent{
			Name: domain.EventDetailActivity,
			Data: domain.TimelineDetail{TimelineID: req.TimelineID, Locations: locations},
		})

	default:
		log.Printf("[WS] Unknown event %q from %s", msg.Event, client.ID)
	}
}

func (h *Handler) handleLocationUpdate(ctx context.Context, client *Client, data json.RawMessage) {
	ev, err := domain.ParseLocationEvent(data)
	if err != nil {
		log.Printf("[WS] Rejected location from %s: %v", client.ID, err)
		client.Send(errorAck(err))
		return
	}

	result, err := h.Tracker.ApplyEvent(ctx, ev)
	if err != nil {
		log.Printf("[WS] Failed to process location from %s: %v", client.ID, err)
		client.Send(errorAck(err))
		return
	}

	h.ConnManager.Touch(client.ID, result.Device.ID, h.now())
	client.Send(domain.ServerEvent{
		Name: domain.EventAck,
		Data: domain.Ack{Status: "ok", DeviceID: result.Device.ID},
	})

	if err := h.Hub.Broadcast(ctx, domain.NewPointer(result.Device, *result.Location)); err != nil {
		log.Printf("[WS] Broadcast for %s incomplete: %v", result.Device.ID, err)
	}
}

func errorAck(err error) domain.ServerEvent {
	msg := "internal error"
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		msg = vErr.Error()
	}
	return domain.ServerEvent{Name: domain.EventAck, Data: domain.Ack{Status: "error", Message: msg}}
}
