package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sventek/iot-device-hub/internal/db"
	"github.com/sventek/iot-device-hub/internal/ws"
	"go.uber.org/zap"
)

type fakeStore struct {
	calls []string

	upsertedID   string
	upsertedName string
	upsertedSeen time.Time
	upsertErr    error

	inserted  []*db.Reading
	insertErr error
}

func (f *fakeStore) UpsertDevice(_ context.Context, id, name string, seenAt time.Time) error {
	f.calls = append(f.calls, "upsert")
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upsertedID = id
	f.upsertedName = name
	f.upsertedSeen = seenAt
	return nil
}

func (f *fakeStore) InsertReading(_ context.Context, reading *db.Reading) (int64, error) {
	f.calls = append(f.calls, "insert")
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, reading)
	return int64(len(f.inserted)), nil
}

type fakeBroadcaster struct {
	updates []ws.DeviceUpdate
}

func (f *fakeBroadcaster) BroadcastDeviceUpdate(update ws.DeviceUpdate) {
	f.updates = append(f.updates, update)
}

func newTestPipeline(store *fakeStore, broadcaster *fakeBroadcaster, at time.Time) *Pipeline {
	p := NewPipeline(store, broadcaster, zap.NewNop())
	p.now = func() time.Time { return at }
	return p
}

func TestHandleMessage_ValidReading(t *testing.T) {
	store := &fakeStore{}
	broadcaster := &fakeBroadcaster{}
	ingestedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	p := newTestPipeline(store, broadcaster, ingestedAt)

	payload := []byte(`{"voltage":12.5,"current":2.1,"battery_soh":95.0}`)
	if err := p.HandleMessage(context.Background(), "devices/dev-1/data", payload); err != nil {
		t.Fatalf("Expected message to be accepted, got error: %v", err)
	}

	// Device upsert must complete before the reading insert
	if len(store.calls) != 2 || store.calls[0] != "upsert" || store.calls[1] != "insert" {
		t.Fatalf("Expected calls [upsert insert], got %v", store.calls)
	}

	if store.upsertedID != "dev-1" || store.upsertedName != "dev-1" {
		t.Errorf("Unexpected upsert: id=%s name=%s", store.upsertedID, store.upsertedName)
	}
	if !store.upsertedSeen.Equal(ingestedAt) {
		t.Errorf("Expected last_seen %v, got %v", ingestedAt, store.upsertedSeen)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("Expected 1 inserted reading, got %d", len(store.inserted))
	}
	row := store.inserted[0]
	if row.DeviceID != "dev-1" || row.Voltage != 12.5 || row.Current != 2.1 || row.BatterySoh != 95.0 {
		t.Errorf("Unexpected reading row: %+v", row)
	}
	if !row.IngestedAt.Equal(ingestedAt) {
		t.Errorf("Expected ingested_at %v, got %v", ingestedAt, row.IngestedAt)
	}

	if len(broadcaster.updates) != 1 {
		t.Fatalf("Expected 1 broadcast, got %d", len(broadcaster.updates))
	}
	update := broadcaster.updates[0]
	if update.DeviceID != "dev-1" {
		t.Errorf("Expected broadcast device id dev-1, got %s", update.DeviceID)
	}
	if update.Data.Timestamp != ingestedAt.Format(time.RFC3339Nano) {
		t.Errorf("Expected broadcast timestamp to be the ingestion time, got %s", update.Data.Timestamp)
	}
}

func TestHandleMessage_BroadcastCarriesIngestionTimeNotMeasurementTime(t *testing.T) {
	store := &fakeStore{}
	broadcaster := &fakeBroadcaster{}
	ingestedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	p := newTestPipeline(store, broadcaster, ingestedAt)

	payload := []byte(`{"voltage":12.5,"current":2.1,"battery_soh":95.0,"soh_measurement_time":"2020-01-01T00:00:00Z"}`)
	if err := p.HandleMessage(context.Background(), "devices/dev-1/data", payload); err != nil {
		t.Fatalf("Expected message to be accepted, got error: %v", err)
	}

	update := broadcaster.updates[0]
	if update.Data.Timestamp != ingestedAt.Format(time.RFC3339Nano) {
		t.Errorf("Expected ingestion timestamp, got %s", update.Data.Timestamp)
	}
	if update.Data.SohMeasurementTime == nil || *update.Data.SohMeasurementTime != "2020-01-01T00:00:00Z" {
		t.Errorf("Expected measurement time passed through, got %v", update.Data.SohMeasurementTime)
	}
}

func TestHandleMessage_RejectedTopicTouchesNothing(t *testing.T) {
	store := &fakeStore{}
	broadcaster := &fakeBroadcaster{}
	p := newTestPipeline(store, broadcaster, time.Now())

	payload := []byte(`{"voltage":12.5,"current":2.1,"battery_soh":95.0}`)
	err := p.HandleMessage(context.Background(), "devices/dev-1/bogus/data", payload)
	if err == nil {
		t.Fatal("Expected rejection for malformed topic")
	}

	if len(store.calls) != 0 {
		t.Errorf("Expected no store calls, got %v", store.calls)
	}
	if len(broadcaster.updates) != 0 {
		t.Errorf("Expected no broadcasts, got %d", len(broadcaster.updates))
	}
}

func TestHandleMessage_MissingFieldTouchesNothing(t *testing.T) {
	store := &fakeStore{}
	broadcaster := &fakeBroadcaster{}
	p := newTestPipeline(store, broadcaster, time.Now())

	payload := []byte(`{"voltage":12.5,"battery_soh":95.0}`)
	err := p.HandleMessage(context.Background(), "devices/dev-1/data", payload)
	if err == nil {
		t.Fatal("Expected rejection for missing current")
	}

	if len(store.calls) != 0 {
		t.Errorf("Expected no store calls, got %v", store.calls)
	}
	if len(broadcaster.updates) != 0 {
		t.Errorf("Expected no broadcasts, got %d", len(broadcaster.updates))
	}
}

func TestHandleMessage_UpsertFailureStopsPipeline(t *testing.T) {
	store := &fakeStore{upsertErr: errors.New("store unavailable")}
	broadcaster := &fakeBroadcaster{}
	p := newTestPipeline(store, broadcaster, time.Now())

	payload := []byte(`{"voltage":12.5,"current":2.1,"battery_soh":95.0}`)
	err := p.HandleMessage(context.Background(), "devices/dev-1/data", payload)
	if err == nil {
		t.Fatal("Expected error when upsert fails")
	}

	if len(store.calls) != 1 || store.calls[0] != "upsert" {
		t.Errorf("Expected insert to be skipped after upsert failure, calls: %v", store.calls)
	}
	if len(broadcaster.updates) != 0 {
		t.Errorf("Expected no broadcast after persist failure, got %d", len(broadcaster.updates))
	}
}

func TestHandleMessage_InsertFailureSkipsBroadcast(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("foreign key violation")}
	broadcaster := &fakeBroadcaster{}
	p := newTestPipeline(store, broadcaster, time.Now())

	payload := []byte(`{"voltage":12.5,"current":2.1,"battery_soh":95.0}`)
	err := p.HandleMessage(context.Background(), "devices/dev-1/data", payload)
	if err == nil {
		t.Fatal("Expected error when insert fails")
	}

	if len(store.calls) != 2 {
		t.Errorf("Expected upsert then insert attempt, calls: %v", store.calls)
	}
	if len(broadcaster.updates) != 0 {
		t.Errorf("Expected no broadcast after insert failure, got %d", len(broadcaster.updates))
	}
}

func TestHandleMessage_ZeroValuesAccepted(t *testing.T) {
	store := &fakeStore{}
	broadcaster := &fakeBroadcaster{}
	p := newTestPipeline(store, broadcaster, time.Now())

	payload := []byte(`{"voltage":0,"current":0,"battery_soh":0}`)
	if err := p.HandleMessage(context.Background(), "devices/dev-1/data", payload); err != nil {
		t.Fatalf("Expected zero-valued reading to be accepted, got error: %v", err)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("Expected 1 inserted reading, got %d", len(store.inserted))
	}
	if len(broadcaster.updates) != 1 {
		t.Errorf("Expected 1 broadcast, got %d", len(broadcaster.updates))
	}
}
