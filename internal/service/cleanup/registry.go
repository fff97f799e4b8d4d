package cleanup

import (
	"time"

	"github.com/iamasit07/geo-tracking/backend/internal/transport/websocket"
)

// ConnectionRegistry lets the worker reap entries of a websocket
// ConnectionManager.
func ConnectionRegistry(cm *websocket.ConnectionManager) Registry {
	return connectionManagerRegistry{cm: cm}
}

type connectionManagerRegistry struct {
	cm *websocket.ConnectionManager
}

func (r connectionManagerRegistry) IdleConnections(now time.Time, threshold time.Duration) []string {
	return r.cm.IdleConnections(now, threshold)
}

func (r connectionManagerRegistry) Claim(id string, now time.Time, threshold time.Duration) (Connection, bool) {
	c, ok := r.cm.Claim(id, now, threshold)
	if !ok {
		return nil, false
	}
	return c, true
}
