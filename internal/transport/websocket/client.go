package websocket

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

const writeWait = 10 * time.Second

// socket is the part of *websocket.Conn the registry writes through.
type socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one registered connection.
type Client struct {
	ID       string
	Protocol Protocol

	conn socket
	// writeMu serializes frame writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu           sync.Mutex
	lastActivity time.Time
	deviceID     string

	closeOnce sync.Once
	closeErr  error
}

func NewClient(id string, conn socket, protocol Protocol, now time.Time) *Client {
	return &Client{
		ID:           id,
		Protocol:     protocol,
		conn:         conn,
		lastActivity: now,
	}
}

func (c *Client) Send(ev domain.ServerEvent) error {
	data, err := c.Protocol.Encode(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a keepalive control frame. It does not count as activity.
func (c *Client) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close closes the socket once; later calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Client) touch(deviceID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.After(c.lastActivity) {
		c.lastActivity = now
	}
	if c.deviceID == "" && deviceID != "" {
		c.deviceID = deviceID
	}
}

func (c *Client) idle(now time.Time, threshold time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity) >= threshold
}

// ConnectionManager is the registry of live connections, keyed by client id.
type ConnectionManager struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Client),
	}
}

func (cm *ConnectionManager) Add(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if old, exists := cm.clients[c.ID]; exists && old != c {
		old.Close()
	}
	cm.clients[c.ID] = c
}

// Touch records activity on a connection and binds it to deviceID if it has
// no device yet. It reports whether the connection is still registered.
func (cm *ConnectionManager) Touch(id, deviceID string, now time.Time) bool {
	cm.mu.RLock()
	c, exists := cm.clients[id]
	cm.mu.RUnlock()
	if !exists {
		return false
	}
	c.touch(deviceID, now)
	return true
}

// Remove unregisters and closes the connection. Unknown ids are ignored.
func (cm *ConnectionManager) Remove(id string) {
	cm.mu.Lock()
	c, exists := cm.clients[id]
	delete(cm.clients, id)
	cm.mu.Unlock()

	if exists {
		c.Close()
	}
}

func (cm *ConnectionManager) Get(id string) (*Client, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, exists := cm.clients[id]
	return c, exists
}

func (cm *ConnectionManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// IdleConnections lists connections silent for at least threshold.
func (cm *ConnectionManager) IdleConnections(now time.Time, threshold time.Duration) []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var ids []string
	for id, c := range cm.clients {
		if c.idle(now, threshold) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Claim removes the connection if it is still registered and still idle,
// handing it to the caller without closing it. Activity that arrived after
// IdleConnections was taken keeps the connection alive.
func (cm *ConnectionManager) Claim(id string, now time.Time, threshold time.Duration) (*Client, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, exists := cm.clients[id]
	if !exists || !c.idle(now, threshold) {
		return nil, false
	}
	delete(cm.clients, id)
	return c, true
}

// SendTo writes one event to a connection. A missing connection is not an
// error.
func (cm *ConnectionManager) SendTo(id string, ev domain.ServerEvent) error {
	c, exists := cm.Get(id)
	if !exists {
		return nil
	}
	return c.Send(ev)
}

// Emit fans an event out to every connection. Each connection is written in
// its own goroutine and Emit returns once all writes finish, so successive
// events keep their order on every connection.
func (cm *ConnectionManager) Emit(ctx context.Context, ev domain.ServerEvent) error {
	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if err := c.Send(ev); err != nil {
				log.Printf("[WS] Failed to send %s to %s: %v", ev.Name, c.ID, err)
			}
		}(c)
	}
	wg.Wait()
	return nil
}
