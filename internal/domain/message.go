package domain

import (
	"encoding/json"
	"time"
)

// Outbound event names.
const (
	EventConnected       = "connected"
	EventPointerAdded    = "pointerAdded"
	EventPointerMoved    = "pointerMoved"
	EventPointers        = "pointers"
	EventLocationUpdate  = "locationUpdate"
	EventTrackingEnded   = "trackingEnded"
	EventForceDisconnect = "forceDisconnect"
	EventAck             = "ack"
	EventActiveTimeline  = "activeTimeline"
	EventDetailActivity  = "detailActivity"
)

// Inbound message names.
const (
	MessageLocationUpdate = "locationUpdate"
	MessagePong           = "pong"
	MessageGetPointers    = "getPointers"
	MessageActiveTimeline = "activeTimeline"
	MessageDetailActivity = "detailActivity"
)

// ServerEvent is a single outbound event before protocol encoding.
type ServerEvent struct {
	Name string
	Data interface{}
}

// ClientMessage is the envelope every inbound websocket frame uses.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type PongMessage struct {
	DeviceID string `json:"deviceId"`
}

type DetailActivityRequest struct {
	TimelineID string `json:"timelineId"`
}

type LocationUpdate struct {
	DeviceID  string  `json:"deviceId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Notice struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	DeviceID  string    `json:"deviceId,omitempty"`
}

type Ack struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
}

// Welcome is the payload of the connected event.
type Welcome struct {
	ClientID  string    `json:"clientId"`
	Protocol  string    `json:"protocol"`
	Timestamp time.Time `json:"timestamp"`
}

type TimelineDetail struct {
	TimelineID string     `json:"timelineId"`
	Locations  []Location `json:"locations"`
}
