package uid

import "github.com/google/uuid"

// GenerateDeviceID returns a fresh random id for events that arrive without one.
func GenerateDeviceID() string {
	return uuid.NewString()
}

// GenerateTimelineID returns a random id for a new trip session.
func GenerateTimelineID() string {
	return uuid.NewString()
}
