package domain

import "fmt"

// EventType is the lifecycle tag attached to every location sample.
type EventType string

const (
	EventStart   EventType = "START"
	EventOngoing EventType = "ONGOING"
	EventFinish  EventType = "FINISH"
)

func (e EventType) Valid() bool {
	switch e {
	case EventStart, EventOngoing, EventFinish:
		return true
	}
	return false
}

// basic error that can occur
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrOpenTimelineExists Error = "device already has an open timeline"
	ErrTimelineNotFound   Error = "timeline not found"
	ErrNotConnected       Error = "broker not connected"
)

// ValidationError rejects an inbound event before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
