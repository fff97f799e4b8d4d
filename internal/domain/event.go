package domain

import (
	"encoding/json"
	"time"
)

// LocationEvent is the inbound sample shape shared by the websocket and
// broker paths. Coordinates are pointers so that 0 is a valid value and a
// missing field can be told apart.
type LocationEvent struct {
	DeviceID    string    `json:"deviceId,omitempty"`
	DeviceName  string    `json:"deviceName,omitempty"`
	OS          string    `json:"os,omitempty"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	ReverseData string    `json:"reverseData,omitempty"`
	EventType   EventType `json:"eventType"`
}

// Validate checks the mandatory fields. DeviceID is not mandatory: the
// tracker generates one when absent.
func (e *LocationEvent) Validate() error {
	if e.Latitude == nil {
		return &ValidationError{Field: "latitude", Reason: "required"}
	}
	if e.Longitude == nil {
		return &ValidationError{Field: "longitude", Reason: "required"}
	}
	if *e.Latitude < -90 || *e.Latitude > 90 {
		return &ValidationError{Field: "latitude", Reason: "out of range"}
	}
	if *e.Longitude < -180 || *e.Longitude > 180 {
		return &ValidationError{Field: "longitude", Reason: "out of range"}
	}
	if e.EventType == "" {
		return &ValidationError{Field: "eventType", Reason: "required"}
	}
	if !e.EventType.Valid() {
		return &ValidationError{Field: "eventType", Reason: "must be START, ONGOING or FINISH"}
	}
	return nil
}

// ParseLocationEvent decodes and validates a raw payload.
func ParseLocationEvent(data []byte) (LocationEvent, error) {
	var ev LocationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return LocationEvent{}, &ValidationError{Field: "payload", Reason: err.Error()}
	}
	if err := ev.Validate(); err != nil {
		return LocationEvent{}, err
	}
	return ev, nil
}

// DeviceStatus arrives on the device-status topic and is only logged.
type DeviceStatus struct {
	DeviceID  string `json:"deviceId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// DeviceCommand is published to commands/<deviceId>.
type DeviceCommand struct {
	DeviceID  string          `json:"deviceId"`
	Command   string          `json:"command"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
