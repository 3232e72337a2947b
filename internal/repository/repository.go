package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sventek/iot-device-hub/internal/db"
)

const (
	// defaultHistoryLimit is used when a caller passes a non-positive
	// page size, mirroring the dashboard's default page.
	defaultHistoryLimit = 100

	// activeWindow is how recently a device must have reported to count
	// as active in Stats.
	activeWindow = 5 * time.Minute
)

// pgFKViolation is the PostgreSQL error code for foreign_key_violation
const pgFKViolation = "23503"

var (
	// ErrDeviceNotFound is returned when a device id has no row
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoReadings is returned when a device has no readings yet
	ErrNoReadings = errors.New("no readings for device")

	// ErrForeignKey is returned when a reading references a missing device
	ErrForeignKey = errors.New("foreign key violation")
)

// Stats holds the dashboard aggregate counters. The three counts are
// independent queries, not a snapshot.
type Stats struct {
	TotalDevices  int64 `json:"totalDevices"`
	ActiveDevices int64 `json:"activeDevices"`
	TotalReadings int64 `json:"totalReadings"`
}

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertDevice inserts a device row or, if the id already exists,
// overwrites its name and refreshes last_seen. The conditional insert is
// a single statement, so concurrent first-writes for the same id
// converge to one row without duplicate-key failures.
func (r *Repository) UpsertDevice(ctx context.Context, id, name string, seenAt time.Time) error {
	query := `
		INSERT INTO devices (id, name, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			last_seen = excluded.last_seen
	`

	if _, err := r.pool.Exec(ctx, query, id, name, seenAt); err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", id, err)
	}
	return nil
}

// InsertReading appends an immutable reading row and returns its id.
// The device row must already exist; a missing device surfaces as
// ErrForeignKey even though the ingestion call order makes that case
// unreachable in practice.
func (r *Repository) InsertReading(ctx context.Context, reading *db.Reading) (int64, error) {
	query := `
		INSERT INTO readings (device_id, voltage, current, battery_soh, soh_measurement_time, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		reading.DeviceID,
		reading.Voltage,
		reading.Current,
		reading.BatterySoh,
		reading.SohMeasurementTime,
		reading.IngestedAt,
	).Scan(&id)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgFKViolation {
			return 0, fmt.Errorf("device %s does not exist: %w", reading.DeviceID, ErrForeignKey)
		}
		return 0, fmt.Errorf("failed to insert reading: %w", err)
	}

	return id, nil
}

// GetDevice retrieves a single device by id
func (r *Repository) GetDevice(ctx context.Context, id string) (*db.Device, error) {
	query := `
		SELECT id, name, last_seen
		FROM devices
		WHERE id = $1
	`

	var device db.Device
	err := r.pool.QueryRow(ctx, query, id).Scan(&device.ID, &device.Name, &device.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}

	return &device, nil
}

// ListDevices returns all devices, most recently seen first
func (r *Repository) ListDevices(ctx context.Context) ([]db.Device, error) {
	query := `
		SELECT id, name, last_seen
		FROM devices
		ORDER BY last_seen DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []db.Device
	for rows.Next() {
		var device db.Device
		if err := rows.Scan(&device.ID, &device.Name, &device.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return devices, nil
}

// LatestReading returns the most recent reading for a device by
// ingestion time. "Latest" is whichever row was inserted last, not
// whichever carries the newest producer measurement time.
func (r *Repository) LatestReading(ctx context.Context, deviceID string) (*db.Reading, error) {
	query := `
		SELECT id, device_id, voltage, current, battery_soh, soh_measurement_time, ingested_at
		FROM readings
		WHERE device_id = $1
		ORDER BY ingested_at DESC, id DESC
		LIMIT 1
	`

	var reading db.Reading
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(
		&reading.ID,
		&reading.DeviceID,
		&reading.Voltage,
		&reading.Current,
		&reading.BatterySoh,
		&reading.SohMeasurementTime,
		&reading.IngestedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoReadings
		}
		return nil, fmt.Errorf("failed to query latest reading: %w", err)
	}

	return &reading, nil
}

// normalizePage applies the paging policy shared by every HistoryPage
// caller: non-positive limits fall back to the default page size,
// negative offsets clamp to zero.
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// HistoryPage returns a page of readings for a device in descending
// ingestion-time order. Non-positive limits fall back to the default
// page size and negative offsets clamp to zero, so every caller gets
// the same paging policy.
func (r *Repository) HistoryPage(ctx context.Context, deviceID string, limit, offset int) ([]db.Reading, error) {
	limit, offset = normalizePage(limit, offset)

	query := `
		SELECT id, device_id, voltage, current, battery_soh, soh_measurement_time, ingested_at
		FROM readings
		WHERE device_id = $1
		ORDER BY ingested_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var readings []db.Reading
	for rows.Next() {
		var reading db.Reading
		err := rows.Scan(
			&reading.ID,
			&reading.DeviceID,
			&reading.Voltage,
			&reading.Current,
			&reading.BatterySoh,
			&reading.SohMeasurementTime,
			&reading.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return readings, nil
}

// Stats computes the dashboard counters with three independent
// aggregate queries. The counts may straddle concurrent writes; the
// dashboard does not need a consistent snapshot.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats

	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM devices`).Scan(&stats.TotalDevices)
	if err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM devices WHERE last_seen > now() - make_interval(secs => $1)`,
		activeWindow.Seconds(),
	).Scan(&stats.ActiveDevices)
	if err != nil {
		return nil, fmt.Errorf("failed to count active devices: %w", err)
	}

	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM readings`).Scan(&stats.TotalReadings)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	return &stats, nil
}
