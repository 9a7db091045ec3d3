// Package realtime fans live updates out to dashboard clients over
// websockets and accepts their device control requests.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lynguyen2516/iot/internal/model"
	"github.com/lynguyen2516/iot/internal/monitor"
	"github.com/lynguyen2516/iot/internal/mqtt"
	"github.com/lynguyen2516/iot/internal/store"
)

// Server->client event names.
const (
	EventCurrentStates      = "current_states"
	EventSensorUpdate       = "sensor_update"
	EventStatusConfirmed    = "device_status_confirmed"
	EventConnected          = "esp32_connected"
	EventDisconnected       = "esp32_disconnected"
	EventControlError       = "device_control_error"
	clientTypeDeviceControl = "device_control"
)

type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

type currentStates struct {
	Devices     map[model.Device]model.Status `json:"devices"`
	ESP32Online bool                          `json:"esp32Online"`
}

type statusConfirmed struct {
	Device    model.Device `json:"device"`
	Status    model.Status `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
}

type controlRequest struct {
	Type   string       `json:"type"`
	Device model.Device `json:"device"`
	Status model.Status `json:"status"`
}

type controlError struct {
	Device model.Device `json:"device"`
	Error  string       `json:"error"`
}

type Hub struct {
	upgrader websocket.Upgrader
	monitor  *monitor.Monitor
	pub      mqtt.Publisher

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(mon *monitor.Monitor, pub mqtt.Publisher) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Dashboard pages are served from the same origin; the
				// API carries no credentials worth protecting here.
				return true
			},
		},
		monitor: mon,
		pub:     pub,
		clients: map[*client]struct{}{},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.addClient(c)
	go h.writePump(c)

	// New clients start from the authoritative snapshot.
	h.sendTo(c, h.currentStatesEvent())
	h.readPump(c)
}

// BroadcastReading pushes one persisted sensor sample to every client.
func (h *Hub) BroadcastReading(r store.SensorReading) {
	h.broadcast(Event{Type: EventSensorUpdate, Data: r})
}

// BroadcastStatus pushes one device-confirmed transition.
func (h *Hub) BroadcastStatus(d model.Device, s model.Status, ts time.Time) {
	h.broadcast(Event{Type: EventStatusConfirmed, Data: statusConfirmed{Device: d, Status: s, Timestamp: ts}})
}

// BroadcastConnected announces the board online along with the re-seeded
// snapshot.
func (h *Hub) BroadcastConnected() {
	h.broadcast(Event{Type: EventConnected})
	h.broadcast(h.currentStatesEvent())
}

// BroadcastDisconnected announces a liveness timeout.
func (h *Hub) BroadcastDisconnected() {
	h.broadcast(Event{Type: EventDisconnected})
	h.broadcast(h.currentStatesEvent())
}

func (h *Hub) currentStatesEvent() Event {
	return Event{Type: EventCurrentStates, Data: currentStates{
		Devices:     h.monitor.Snapshot(),
		ESP32Online: h.monitor.Online(),
	}}
}

// handleControl validates a client request and forwards it to the broker.
// It never mutates device state: the authoritative transition happens only
// when the device's own confirmation message comes back through ingest.
func (h *Hub) handleControl(req controlRequest) *controlError {
	if !req.Device.Valid() || !req.Device.Controllable() || !req.Status.Valid() {
		return &controlError{Device: req.Device, Error: "Invalid command"}
	}
	if !h.monitor.Online() {
		return &controlError{Device: req.Device, Error: "ESP32 offline"}
	}
	topic, _ := model.ControlTopic(req.Device)
	if err := h.pub.Publish(topic, req.Status.WireByte()); err != nil {
		slog.Error("control publish failed", "device", req.Device, "error", err)
		return &controlError{Device: req.Device, Error: "Failed to send command"}
	}
	slog.Info("control forwarded", "device", req.Device, "status", req.Status)
	return nil
}

func (h *Hub) broadcast(ev Event) {
	ev.At = time.Now().UTC()
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			// Slow client; drop it.
			delete(h.clients, c)
			close(c.send)
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) sendTo(c *client, ev Event) {
	ev.At = time.Now().UTC()
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- b:
	default:
		delete(h.clients, c)
		close(c.send)
		_ = c.conn.Close()
	}
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		_ = c.conn.Close()
	}
}

func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req controlRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			slog.Debug("client message unparseable", "error", err)
			continue
		}
		if req.Type != clientTypeDeviceControl {
			continue
		}
		if cerr := h.handleControl(req); cerr != nil {
			// Rejections go to the requesting client only.
			h.sendTo(c, Event{Type: EventControlError, Data: *cerr})
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
