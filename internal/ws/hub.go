package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// DeviceUpdate is the event broadcast to every connected observer after
// a reading has been persisted.
type DeviceUpdate struct {
	Event      string     `json:"event"`
	DeviceID   string     `json:"deviceId"`
	DeviceName string     `json:"deviceName"`
	Data       UpdateData `json:"data"`
}

// UpdateData carries the reading payload. Timestamp is the server
// ingestion time, not the producer's measurement time.
type UpdateData struct {
	Voltage            float64 `json:"voltage"`
	Current            float64 `json:"current"`
	BatterySoh         float64 `json:"battery_soh"`
	SohMeasurementTime *string `json:"soh_measurement_time"`
	Timestamp          string  `json:"timestamp"`
}

// Hub maintains the set of connected observers and fans events out to
// them. Delivery is fire-and-forget: there is no buffering beyond each
// client's send queue, no replay for late joiners and no acknowledgment.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	// done is closed when Run exits so client goroutines sending on
	// register/unregister do not block past shutdown
	done chan struct{}

	logger *zap.Logger
}

// NewHub creates a hub; call Run to start its event loop
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes register/unregister/broadcast events until the context
// is cancelled, then closes every client connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.logger.Info("fanout hub stopped")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Info("observer connected", zap.String("client_id", client.id), zap.Int("observers", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("observer disconnected", zap.String("client_id", client.id), zap.Int("observers", len(h.clients)))
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Observer cannot keep up; drop it rather than block the hub
					delete(h.clients, client)
					close(client.send)
					h.logger.Warn("observer send queue full, dropping", zap.String("client_id", client.id))
				}
			}
		}
	}
}

// BroadcastDeviceUpdate sends a device-update event to all connected
// observers. It never blocks the caller and never fails ingestion: if
// the hub's queue is full the event is dropped and logged.
func (h *Hub) BroadcastDeviceUpdate(update DeviceUpdate) {
	update.Event = "device-update"
	message, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("failed to marshal device update", zap.Error(err), zap.String("device_id", update.DeviceID))
		return
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast queue full, dropping update", zap.String("device_id", update.DeviceID))
	}
}

// registerClient adds a client to the hub. It reports false when the
// hub has already stopped, in which case the caller owns the
// connection's cleanup.
func (h *Hub) registerClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// unregisterClient removes a client; a no-op after the hub stopped
func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
