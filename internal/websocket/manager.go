package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/drover-project/drover/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Manager manages client connections and broadcasts events.
type Manager struct {
	connections       map[string]*Connection
	connectionCounter int

	eventChan chan *Event

	upgrader websocket.Upgrader

	mu sync.RWMutex
	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Connection represents one connected client.
type Connection struct {
	ID   string
	Send chan *Event

	mu     sync.Mutex
	closed bool
}

// NewManager creates a new connection manager.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		connections: make(map[string]*Connection),
		eventChan:   make(chan *Event, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser origins vary per deployment; CORS policy is
			// enforced by the HTTP middleware in front of this.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the broadcast and heartbeat loops.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.run()

	m.wg.Add(1)
	go m.heartbeatLoop()

	logger.Info("WebSocket manager started")
}

// Stop closes all connections and waits for the loops to exit.
func (m *Manager) Stop() {
	logger.Info("Stopping WebSocket manager...")

	m.cancel()

	m.mu.Lock()
	for _, conn := range m.connections {
		conn.mu.Lock()
		if !conn.closed {
			conn.closed = true
			close(conn.Send)
		}
		conn.mu.Unlock()
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	m.wg.Wait()

	logger.Info("WebSocket manager stopped")
}

// run dispatches queued events to all connections.
func (m *Manager) run() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event := <-m.eventChan:
			m.broadcastEvent(event)
		}
	}
}

// heartbeatLoop sends periodic heartbeat messages.
func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			count := m.GetConnectionCount()
			if count > 0 {
				m.Broadcast(NewHeartbeatEvent(count))
			}
		}
	}
}

// Broadcast queues an event for delivery to all connected clients.
func (m *Manager) Broadcast(event *Event) {
	select {
	case m.eventChan <- event:
	case <-m.ctx.Done():
		logger.Warn("Cannot broadcast event: manager is shut down")
	default:
		logger.Warn("Event queue full, dropping event")
	}
}

func (m *Manager) broadcastEvent(event *Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for connID, conn := range m.connections {
		conn.mu.Lock()
		closed := conn.closed
		conn.mu.Unlock()
		if closed {
			continue
		}

		select {
		case conn.Send <- event:
		default:
			// Slow consumer, shed it rather than block the others.
			logger.Warnf("Send queue for connection %s is full, closing it", connID)
			go m.removeConnection(connID)
		}
	}
}

// HandleWebSocket upgrades the request and serves the event stream.
func (m *Manager) HandleWebSocket(c *gin.Context) {
	ws, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	m.mu.Lock()
	m.connectionCounter++
	connID := fmt.Sprintf("conn-%d", m.connectionCounter)
	conn := &Connection{
		ID:   connID,
		Send: make(chan *Event, sendBufferSize),
	}
	m.connections[connID] = conn
	total := len(m.connections)
	m.mu.Unlock()

	logger.Infof("WebSocket connection established: %s (total: %d)", connID, total)

	m.wg.Add(1)
	go m.writePump(ws, conn)
	m.readPump(ws, connID)
}

// readPump consumes client frames (only control frames are expected)
// and tears the connection down when the client goes away.
func (m *Manager) readPump(ws *websocket.Conn, connID string) {
	defer func() {
		m.removeConnection(connID)
		ws.Close()
		logger.Infof("WebSocket connection closed: %s (remaining: %d)", connID, m.GetConnectionCount())
	}()

	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump streams events and pings to the client.
func (m *Manager) writePump(ws *websocket.Conn, conn *Connection) {
	defer m.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case <-m.ctx.Done():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return

		case event, ok := <-conn.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// GetConnectionCount returns the number of live connections.
func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *Manager) removeConnection(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return
	}
	delete(m.connections, connID)

	conn.mu.Lock()
	if !conn.closed {
		conn.closed = true
		close(conn.Send)
	}
	conn.mu.Unlock()
}
