package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sventek/iot-device-hub/internal/api"
	"github.com/sventek/iot-device-hub/internal/db"
	"github.com/sventek/iot-device-hub/internal/repository"
	"github.com/sventek/iot-device-hub/internal/ws"
	"go.uber.org/zap"
)

type fakeStore struct {
	devices  []db.Device
	readings map[string][]db.Reading
	stats    repository.Stats

	lastLimit  int
	lastOffset int
}

func (f *fakeStore) GetDevice(_ context.Context, id string) (*db.Device, error) {
	for i := range f.devices {
		if f.devices[i].ID == id {
			return &f.devices[i], nil
		}
	}
	return nil, repository.ErrDeviceNotFound
}

func (f *fakeStore) ListDevices(_ context.Context) ([]db.Device, error) {
	return f.devices, nil
}

func (f *fakeStore) LatestReading(_ context.Context, deviceID string) (*db.Reading, error) {
	readings := f.readings[deviceID]
	if len(readings) == 0 {
		return nil, repository.ErrNoReadings
	}
	return &readings[0], nil
}

func (f *fakeStore) HistoryPage(_ context.Context, deviceID string, limit, offset int) ([]db.Reading, error) {
	f.lastLimit = limit
	f.lastOffset = offset
	return f.readings[deviceID], nil
}

func (f *fakeStore) Stats(_ context.Context) (*repository.Stats, error) {
	return &f.stats, nil
}

func newTestRouter(store *fakeStore) *api.Router {
	logger := zap.NewNop()
	return api.NewRouter(store, ws.NewHub(logger), logger, "")
}

func TestListDevices(t *testing.T) {
	store := &fakeStore{
		devices: []db.Device{
			{ID: "dev-2", Name: "Pump B", LastSeen: time.Now()},
			{ID: "dev-1", Name: "Pump A", LastSeen: time.Now().Add(-time.Hour)},
		},
	}
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/devices", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var devices []db.Device
	if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
		t.Fatalf("Response is not valid JSON: %v", err)
	}
	if len(devices) != 2 || devices[0].ID != "dev-2" {
		t.Errorf("Unexpected device list: %+v", devices)
	}
}

func TestListDevices_EmptyIsArrayNotNull(t *testing.T) {
	router := newTestRouter(&fakeStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/devices", nil))

	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("Expected empty JSON array, got %q", body)
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	router := newTestRouter(&fakeStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/devices/ghost", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Response is not valid JSON: %v", err)
	}
	if body["error"] == "" {
		t.Error("Expected an error message in the body")
	}
}

func TestLatestReading_NoReadingsReturnsEmptyObject(t *testing.T) {
	store := &fakeStore{
		devices: []db.Device{{ID: "dev-1", Name: "Pump A", LastSeen: time.Now()}},
	}
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/devices/dev-1/latest", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "{}\n" {
		t.Errorf("Expected empty JSON object, got %q", body)
	}
}

func TestLatestReading_ReturnsReading(t *testing.T) {
	store := &fakeStore{
		readings: map[string][]db.Reading{
			"dev-1": {{ID: 42, DeviceID: "dev-1", Voltage: 12.5, Current: 2.1, BatterySoh: 95.0, IngestedAt: time.Now()}},
		},
	}
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/devices/dev-1/latest", nil))

	var reading db.Reading
	if err := json.Unmarshal(rec.Body.Bytes(), &reading); err != nil {
		t.Fatalf("Response is not valid JSON: %v", err)
	}
	if reading.ID != 42 || reading.Voltage != 12.5 {
		t.Errorf("Unexpected reading: %+v", reading)
	}
}

func TestHistory_PassesPagination(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/devices/dev-1/history?limit=25&offset=50", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if store.lastLimit != 25 || store.lastOffset != 50 {
		t.Errorf("Expected limit=25 offset=50, got limit=%d offset=%d", store.lastLimit, store.lastOffset)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("Expected empty JSON array, got %q", body)
	}
}

func TestHistory_InvalidPaginationFallsThroughAsZero(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/devices/dev-1/history?limit=abc&offset=xyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	// The repository owns the default/clamping policy; the handler just
	// passes zero through
	if store.lastLimit != 0 || store.lastOffset != 0 {
		t.Errorf("Expected limit=0 offset=0, got limit=%d offset=%d", store.lastLimit, store.lastOffset)
	}
}

func TestStats(t *testing.T) {
	store := &fakeStore{
		stats: repository.Stats{TotalDevices: 3, ActiveDevices: 1, TotalReadings: 120},
	}
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/stats", nil))

	var stats repository.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Response is not valid JSON: %v", err)
	}
	if stats.TotalDevices != 3 || stats.ActiveDevices != 1 || stats.TotalReadings != 120 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&fakeStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
}
