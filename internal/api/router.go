package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sventek/iot-device-hub/internal/db"
	"github.com/sventek/iot-device-hub/internal/repository"
	"github.com/sventek/iot-device-hub/internal/ws"
	"go.uber.org/zap"
)

// Store is the read-only slice of the persistence layer the query
// endpoints project. Reads never block on ingestion; the pool hands
// them their own connections.
type Store interface {
	GetDevice(ctx context.Context, id string) (*db.Device, error)
	ListDevices(ctx context.Context) ([]db.Device, error)
	LatestReading(ctx context.Context, deviceID string) (*db.Reading, error)
	HistoryPage(ctx context.Context, deviceID string, limit, offset int) ([]db.Reading, error)
	Stats(ctx context.Context) (*repository.Stats, error)
}

// Router wraps the mux router with its collaborators
type Router struct {
	*mux.Router
	store  Store
	hub    *ws.Hub
	logger *zap.Logger
}

// NewRouter creates the HTTP router with all routes
func NewRouter(store Store, hub *ws.Hub, logger *zap.Logger, staticDir string) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		store:  store,
		hub:    hub,
		logger: logger,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Observer websocket endpoint
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(hub, w, req)
	})

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices", r.listDevices).Methods("GET")
	api.HandleFunc("/devices/{id}", r.getDevice).Methods("GET")
	api.HandleFunc("/devices/{id}/latest", r.latestReading).Methods("GET")
	api.HandleFunc("/devices/{id}/history", r.history).Methods("GET")
	api.HandleFunc("/stats", r.stats).Methods("GET")

	// Dashboard static assets
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}

	return r
}

// healthCheck returns the health status of the server
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
