package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sventek/iot-device-hub/internal/db"
	"github.com/sventek/iot-device-hub/internal/repository"
	"go.uber.org/zap"
)

// listDevices returns all devices ordered by last_seen descending
func (r *Router) listDevices(w http.ResponseWriter, req *http.Request) {
	devices, err := r.store.ListDevices(req.Context())
	if err != nil {
		r.logger.Error("failed to list devices", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if devices == nil {
		devices = []db.Device{}
	}
	respondJSON(w, http.StatusOK, devices)
}

// getDevice returns a single device or 404
func (r *Router) getDevice(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	device, err := r.store.GetDevice(req.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			respondError(w, http.StatusNotFound, "Device not found")
			return
		}
		r.logger.Error("failed to fetch device", zap.Error(err), zap.String("device_id", id))
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, device)
}

// latestReading returns the most recent reading by ingestion time.
// A device with no readings yields an empty object, not an error.
func (r *Router) latestReading(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]

	reading, err := r.store.LatestReading(req.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNoReadings) {
			respondJSON(w, http.StatusOK, map[string]interface{}{})
			return
		}
		r.logger.Error("failed to fetch latest reading", zap.Error(err), zap.String("device_id", id))
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, reading)
}

// history returns a page of readings, newest first. Absent or
// unparsable limit/offset fall through as zero and pick up the
// repository's defaults.
func (r *Router) history(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))

	readings, err := r.store.HistoryPage(req.Context(), id, limit, offset)
	if err != nil {
		r.logger.Error("failed to fetch history", zap.Error(err), zap.String("device_id", id))
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if readings == nil {
		readings = []db.Reading{}
	}
	respondJSON(w, http.StatusOK, readings)
}

// stats returns the dashboard aggregate counters
func (r *Router) stats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.store.Stats(req.Context())
	if err != nil {
		r.logger.Error("failed to compute stats", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
