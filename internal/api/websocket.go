package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

// Message is a frame sent to stream clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

// Client is one alert stream subscriber
type Client struct {
	ID       string
	Conn     *websocket.Conn
	Send     chan []byte
	MinLevel types.Level

	hub       *AlertHub
	closeOnce sync.Once
}

// AlertHub fans alert transitions out to websocket subscribers. Slow
// clients lose frames rather than block the alert manager.
type AlertHub struct {
	upgrader websocket.Upgrader
	clients  map[string]*Client
	mu       sync.RWMutex
	closed   bool
	gauge    prometheus.Gauge
	log      logger.Logger
}

// NewAlertHub creates a hub. gauge may be nil.
func NewAlertHub(gauge prometheus.Gauge, log logger.Logger) *AlertHub {
	return &AlertHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[string]*Client),
		gauge:   gauge,
		log:     log,
	}
}

// AlertsStream upgrades the request and streams alert events until the
// client goes away. ?min_level=ERROR limits the stream to severe events.
func (h *AlertHub) AlertsStream(c *gin.Context) {
	minLevel := types.LevelInfo
	if raw := c.Query("min_level"); raw != "" {
		level, ok := types.ParseLevel(strings.ToUpper(raw))
		if !ok {
			respondError(c, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput, "unknown level", raw, nil))
			return
		}
		minLevel = level
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		ID:       uuid.NewString(),
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		MinLevel: minLevel,
		hub:      h,
	}
	if !h.register(client) {
		conn.Close()
		return
	}

	hello, _ := json.Marshal(Message{
		Type: "connected",
		Data: map[string]interface{}{"client_id": client.ID, "min_level": minLevel},
		Time: time.Now(),
	})
	client.Send <- hello

	go client.writePump()
	client.readPump()
}

// Broadcast sends ev to every subscriber whose level filter admits it
func (h *AlertHub) Broadcast(ev types.Event) {
	if ev.Alert == nil {
		return
	}
	data, err := json.Marshal(Message{Type: "alert_" + string(ev.Kind), Data: ev, Time: ev.Timestamp})
	if err != nil {
		h.log.Error("Failed to encode alert event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !ev.Alert.Level.AtLeast(client.MinLevel) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.log.Warn("Dropped alert frame for slow client", "client_id", client.ID)
		}
	}
}

// Clients returns the number of connected subscribers
func (h *AlertHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones
func (h *AlertHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *AlertHub) register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client.ID] = client
	h.observe()
	return true
}

// unregister may be called from both pumps and from Close
func (h *AlertHub) unregister(client *Client) {
	client.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.clients, client.ID)
		close(client.Send)
		h.observe()
		h.mu.Unlock()
	})
}

func (h *AlertHub) observe() {
	if h.gauge != nil {
		h.gauge.Set(float64(len(h.clients)))
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.unregister(c)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}

// readPump discards client frames and detects disconnects
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("Alert stream closed unexpectedly", "client_id", c.ID, "error", err)
			}
			return
		}
	}
}
