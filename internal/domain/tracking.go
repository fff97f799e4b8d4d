package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultOS          = "Mobile"
	DefaultReverseData = "Unknown"
	InactivityMarker   = "Tracking ended due to inactivity"
)

func DefaultDeviceName(deviceID string) string {
	return fmt.Sprintf("Device %s", deviceID)
}

type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OS        string    `json:"os"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Location is an immutable sample. TimelineID is nil when the device had no
// open timeline at insert time.
type Location struct {
	ID          int64     `json:"id"`
	DeviceID    string    `json:"deviceId"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	ReverseData string    `json:"reverseData"`
	EventType   EventType `json:"eventType"`
	TimelineID  *string   `json:"timeLineId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Timeline is a trip session. EndTime stays nil while the trip is open.
type Timeline struct {
	ID        string     `json:"id"`
	DeviceID  string     `json:"deviceId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (t *Timeline) IsOpen() bool {
	return t != nil && t.EndTime == nil
}

type TimelineWithDevice struct {
	Timeline
	Device Device `json:"device"`
}

// Position pairs a device with its most recent location.
type Position struct {
	Device   Device
	Location Location
}

// Pointer is the broadcast view of a device's latest known position.
type Pointer struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	OS         string    `json:"os"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Timestamp  time.Time `json:"timestamp"`
	LocationID int64     `json:"-"`
}

func NewPointer(device Device, loc Location) Pointer {
	name := device.Name
	if name == "" {
		name = DefaultDeviceName(device.ID)
	}
	os := device.OS
	if os == "" {
		os = DefaultOS
	}
	return Pointer{
		ID:         uuid.NewString(),
		DeviceID:   device.ID,
		DeviceName: name,
		OS:         os,
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		Timestamp:  loc.CreatedAt,
		LocationID: loc.ID,
	}
}
