package controller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"machinery/internal/network"

	_ "modernc.org/sqlite"
)

var ErrSensorNotFound = errors.New("controller: sensor not found")

// Sensor is a provisioned device
type Sensor struct {
	ID          string    `json:"id"`
	SerialNo    string    `json:"serial_no"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	AssignedAt  time.Time `json:"assigned_at"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// Reading is one telemetry sample received from a sensor
type Reading struct {
	ID         int64     `json:"id"`
	SensorID   string    `json:"sensor_id"`
	SerialNo   string    `json:"serial_no"`
	Value      float64   `json:"value"`
	ReceivedAt time.Time `json:"received_at"`
}

// Store keeps provisioned sensors and their telemetry history in SQLite
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at dbPath
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; serialise through one connection
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	queries := []string{
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS sensors (
			id TEXT PRIMARY KEY,
			serial_no TEXT UNIQUE NOT NULL,
			kind TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			assigned_at INTEGER NOT NULL,
			modified_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor_id TEXT NOT NULL REFERENCES sensors(id) ON DELETE CASCADE,
			serial_no TEXT NOT NULL,
			value REAL NOT NULL,
			received_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_sensor ON readings(sensor_id, received_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// Sensor operations
func (s *Store) CreateSensor(ctx context.Context, id, serialNo, kind, description string) (*Sensor, error) {
	if id == "" || serialNo == "" {
		return nil, fmt.Errorf("sensor id and serial number are required")
	}
	if !network.ValidKind(kind) {
		return nil, fmt.Errorf("unknown sensor kind: %s", kind)
	}

	now := time.Now().UTC().Unix()
	query := `INSERT INTO sensors (id, serial_no, kind, description, assigned_at, modified_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, id, serialNo, kind, description, now, now); err != nil {
		return nil, fmt.Errorf("failed to create sensor: %w", err)
	}

	return s.GetSensor(ctx, id)
}

func (s *Store) GetSensor(ctx context.Context, id string) (*Sensor, error) {
	query := `SELECT id, serial_no, kind, description, assigned_at, modified_at FROM sensors WHERE id = ?`

	sensor, err := scanSensor(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSensorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor: %w", err)
	}

	return sensor, nil
}

func (s *Store) ListSensors(ctx context.Context) ([]*Sensor, error) {
	query := `SELECT id, serial_no, kind, description, assigned_at, modified_at FROM sensors ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	var sensors []*Sensor
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		sensors = append(sensors, sensor)
	}

	return sensors, rows.Err()
}

func (s *Store) UpdateDescription(ctx context.Context, id, description string) error {
	query := `UPDATE sensors SET description = ?, modified_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, description, time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update sensor: %w", err)
	}
	return requireAffected(result)
}

// DeleteSensor removes a sensor and its reading history
func (s *Store) DeleteSensor(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM readings WHERE sensor_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete readings: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM sensors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sensor: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	return tx.Commit()
}

// IsProvisioned implements Lookup
func (s *Store) IsProvisioned(ctx context.Context, id string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sensors WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up sensor: %w", err)
	}
	return true, nil
}

// Reading operations
func (s *Store) RecordReading(ctx context.Context, reading *Reading) error {
	if reading.ReceivedAt.IsZero() {
		reading.ReceivedAt = time.Now().UTC()
	}
	query := `INSERT INTO readings (sensor_id, serial_no, value, received_at) VALUES (?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query, reading.SensorID, reading.SerialNo, reading.Value, reading.ReceivedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get reading ID: %w", err)
	}
	reading.ID = id
	return nil
}

// RecentReadings returns up to limit readings for a sensor, newest first
func (s *Store) RecentReadings(ctx context.Context, sensorID string, limit int) ([]*Reading, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, sensor_id, serial_no, value, received_at FROM readings
			  WHERE sensor_id = ? ORDER BY received_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []*Reading
	for rows.Next() {
		var reading Reading
		var receivedAt int64
		if err := rows.Scan(&reading.ID, &reading.SensorID, &reading.SerialNo, &reading.Value, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		reading.ReceivedAt = time.Unix(0, receivedAt).UTC()
		readings = append(readings, &reading)
	}

	return readings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSensor(row rowScanner) (*Sensor, error) {
	var sensor Sensor
	var assignedAt, modifiedAt int64
	err := row.Scan(&sensor.ID, &sensor.SerialNo, &sensor.Kind, &sensor.Description, &assignedAt, &modifiedAt)
	if err != nil {
		return nil, err
	}
	sensor.AssignedAt = time.Unix(assignedAt, 0).UTC()
	sensor.ModifiedAt = time.Unix(modifiedAt, 0).UTC()
	return &sensor, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrSensorNotFound
	}
	return nil
}
