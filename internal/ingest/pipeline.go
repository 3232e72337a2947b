package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sventek/iot-device-hub/internal/db"
	"github.com/sventek/iot-device-hub/internal/logging"
	"github.com/sventek/iot-device-hub/internal/validator"
	"github.com/sventek/iot-device-hub/internal/ws"
	"go.uber.org/zap"
)

// DeviceStore is the slice of the persistence layer the pipeline
// writes through.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, id, name string, seenAt time.Time) error
	InsertReading(ctx context.Context, reading *db.Reading) (int64, error)
}

// Broadcaster pushes a device update to connected observers. Delivery
// is best-effort and must never block or fail ingestion.
type Broadcaster interface {
	BroadcastDeviceUpdate(update ws.DeviceUpdate)
}

// Pipeline runs each inbound message through validate, device upsert,
// reading insert and broadcast, in that order. A message is handled to
// completion before the next one is dispatched; the transport delivers
// them sequentially.
type Pipeline struct {
	store       DeviceStore
	broadcaster Broadcaster
	logger      *zap.Logger

	// now is the ingestion clock; replaceable in tests
	now func() time.Time
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(store DeviceStore, broadcaster Broadcaster, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

// HandleMessage processes one raw broker message. Failures are logged
// and the message is dropped; there is no retry and no dead-letter
// path, so a store outage loses the readings delivered during it. The
// returned error reports the outcome to callers that care (tests, the
// transport's debug logging) but nothing is ever retried from it.
//
// The device upsert must succeed before the reading insert is
// attempted: the reading's foreign key depends on the device row.
func (p *Pipeline) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	msgLogger := logging.WithMessageID(p.logger, uuid.New().String())

	reading, err := validator.Validate(topic, payload)
	if err != nil {
		var rejErr *validator.RejectError
		if errors.As(err, &rejErr) {
			msgLogger.Warn("message rejected",
				zap.String("topic", topic),
				zap.String("reason", rejErr.Reason),
				zap.String("detail", rejErr.Detail),
			)
		}
		return err
	}

	msgLogger.Info("reading received",
		zap.String("device_id", reading.DeviceID),
		zap.Float64("voltage", reading.Voltage),
		zap.Float64("current", reading.Current),
		zap.Float64("battery_soh", reading.BatterySoh),
	)

	// One ingestion timestamp for the device row, the reading row and
	// the broadcast event
	ingestedAt := p.now().UTC()

	if err := p.store.UpsertDevice(ctx, reading.DeviceID, reading.DeviceName, ingestedAt); err != nil {
		msgLogger.Error("failed to upsert device, dropping message",
			zap.Error(err),
			zap.String("device_id", reading.DeviceID),
		)
		return fmt.Errorf("device upsert failed: %w", err)
	}

	row := &db.Reading{
		DeviceID:           reading.DeviceID,
		Voltage:            reading.Voltage,
		Current:            reading.Current,
		BatterySoh:         reading.BatterySoh,
		SohMeasurementTime: reading.SohMeasurementTime,
		IngestedAt:         ingestedAt,
	}

	readingID, err := p.store.InsertReading(ctx, row)
	if err != nil {
		msgLogger.Error("failed to insert reading, dropping message",
			zap.Error(err),
			zap.String("device_id", reading.DeviceID),
		)
		return fmt.Errorf("reading insert failed: %w", err)
	}

	p.broadcaster.BroadcastDeviceUpdate(ws.DeviceUpdate{
		DeviceID:   reading.DeviceID,
		DeviceName: reading.DeviceName,
		Data: ws.UpdateData{
			Voltage:            reading.Voltage,
			Current:            reading.Current,
			BatterySoh:         reading.BatterySoh,
			SohMeasurementTime: reading.SohMeasurementTime,
			Timestamp:          ingestedAt.Format(time.RFC3339Nano),
		},
	})

	msgLogger.Info("reading persisted and broadcast",
		zap.String("device_id", reading.DeviceID),
		zap.Int64("reading_id", readingID),
	)

	return nil
}
