// Package store provides the local SQLite store for inspection records.
//
// The store is the authoritative copy of every record. It runs embedded
// SQLite (ncruces/go-sqlite3, no cgo) in WAL mode so reads proceed while a
// write is in flight, and serializes its own writes so id assignment is
// race-free.
//
// Architecture:
//   - Database file: inspections.db (configurable)
//   - Table: inspections, keyed by an AUTOINCREMENT id
//   - Indexes: inspection_date for ordering, status and is_synced for filters
//   - Live queries: every committed write re-evaluates matching subscriptions
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abhiyant/inspect/internal/record"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Options configures a Store. The zero value is usable.
type Options struct {
	// Logger for store activity (default: no-op)
	Logger *zap.SugaredLogger

	// Now supplies the creation time for records without an inspection date
	// (default: time.Now)
	Now func() time.Time
}

// Store wraps the SQLite connection pool and the live-query registry.
type Store struct {
	conn   *sql.DB
	path   string
	logger *zap.SugaredLogger
	now    func() time.Time

	// writeMu serializes write transactions and their notifications so
	// subscribers see commits in order.
	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}
}

// Open creates a store backed by the database file at path.
//
// The parent directory is created if needed. The caller must call InitSchema
// before first use and Close when done.
//
// Example:
//
//	st, err := store.Open("data/inspections.db", nil)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &Store{
		conn:   conn,
		path:   path,
		logger: opts.Logger,
		now:    opts.Now,
		subs:   make(map[*Subscription]struct{}),
	}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close ends all subscriptions, checkpoints the WAL and closes the pool.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	s.subsMu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warnw("failed to checkpoint WAL", "error", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the inspections table and its indexes if absent.
// It is idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS inspections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		component_name TEXT NOT NULL,
		component_part_number TEXT,
		inspection_date INTEGER NOT NULL,  -- epoch millis
		inspector_name TEXT NOT NULL,
		batch_number TEXT,
		serial_number TEXT,

		vernier_length REAL,
		vernier_width REAL,
		vernier_height REAL,
		vernier_diameter REAL,
		micrometer_thickness REAL,
		micrometer_outer_diameter REAL,
		micrometer_inner_diameter REAL,
		height_master_measurement REAL,
		additional_measurements TEXT,

		status TEXT NOT NULL DEFAULT 'PENDING',
		is_synced INTEGER NOT NULL DEFAULT 0,
		cloud_sync_timestamp INTEGER,  -- epoch millis
		version INTEGER NOT NULL DEFAULT 1,

		notes TEXT,
		remarks TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_inspections_date ON inspections(inspection_date DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_inspections_status ON inspections(status);
	CREATE INDEX IF NOT EXISTS idx_inspections_unsynced ON inspections(is_synced) WHERE is_synced = 0;
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Databases created before versioning lack the column.
	var hasVersion int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('inspections') WHERE name = 'version'`).Scan(&hasVersion)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if hasVersion == 0 {
		if _, err := s.conn.ExecContext(ctx, `ALTER TABLE inspections ADD COLUMN version INTEGER NOT NULL DEFAULT 1`); err != nil {
			return fmt.Errorf("failed to add version column: %w", err)
		}
		s.logger.Infow("added version column to inspections")
	}
	return nil
}

const columns = `id, component_name, component_part_number, inspection_date, inspector_name,
	batch_number, serial_number,
	vernier_length, vernier_width, vernier_height, vernier_diameter,
	micrometer_thickness, micrometer_outer_diameter, micrometer_inner_diameter,
	height_master_measurement, additional_measurements,
	status, is_synced, cloud_sync_timestamp, notes, remarks, version`

// Insert persists a new record and returns the id the store assigned.
//
// rec.ID must be zero. The inspection date defaults to now; the sync flags
// always start cleared.
func (s *Store) Insert(ctx context.Context, rec *record.InspectionRecord) (int64, error) {
	if rec.ID != 0 {
		return 0, &record.ValidationError{Field: "id", Reason: "must be zero for a new inspection"}
	}
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	row := *rec
	row.IsSynced = false
	row.CloudSyncTimestamp = nil
	row.Version = 1
	if row.Status == "" {
		row.Status = record.StatusPending
	}
	if row.InspectionDate.IsZero() {
		row.InspectionDate = s.now()
	}
	row.InspectionDate = record.Millis(row.InspectionDate)

	query := `
	INSERT INTO inspections (
		component_name, component_part_number, inspection_date, inspector_name,
		batch_number, serial_number,
		vernier_length, vernier_width, vernier_height, vernier_diameter,
		micrometer_thickness, micrometer_outer_diameter, micrometer_inner_diameter,
		height_master_measurement, additional_measurements,
		status, is_synced, cloud_sync_timestamp, notes, remarks, version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, 1)
	`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.conn.ExecContext(ctx, query, contentArgs(&row)...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert inspection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read assigned id: %w", err)
	}
	row.ID = id

	s.logger.Debugw("inserted inspection", "id", id, "component", row.ComponentName)
	s.publish(nil, &row)
	return id, nil
}

// Update overwrites the stored record with rec.ID.
//
// Any local edit marks the record unsynced so the next sync pass mirrors it,
// and bumps its version. The last cloud sync timestamp is kept as a record of when it was last
// mirrored. Returns a NotFoundError if no such record exists.
func (s *Store) Update(ctx context.Context, rec *record.InspectionRecord) error {
	if rec.ID == 0 {
		return &record.ValidationError{Field: "id", Reason: "is required for an update"}
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	row := *rec
	if row.Status == "" {
		row.Status = record.StatusPending
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	before, err := getRecord(ctx, tx, rec.ID)
	if err != nil {
		return err
	}
	if before == nil {
		return &record.NotFoundError{ID: rec.ID}
	}
	if row.InspectionDate.IsZero() {
		row.InspectionDate = before.InspectionDate
	}
	row.InspectionDate = record.Millis(row.InspectionDate)
	row.IsSynced = false
	row.CloudSyncTimestamp = before.CloudSyncTimestamp
	row.Version = before.Version + 1

	query := `
	UPDATE inspections SET
		component_name = ?, component_part_number = ?, inspection_date = ?, inspector_name = ?,
		batch_number = ?, serial_number = ?,
		vernier_length = ?, vernier_width = ?, vernier_height = ?, vernier_diameter = ?,
		micrometer_thickness = ?, micrometer_outer_diameter = ?, micrometer_inner_diameter = ?,
		height_master_measurement = ?, additional_measurements = ?,
		status = ?, notes = ?, remarks = ?,
		is_synced = 0, version = version + 1
	WHERE id = ?
	`
	args := append(contentArgs(&row), row.ID)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update inspection %d: %w", rec.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debugw("updated inspection", "id", row.ID)
	s.publish(before, &row)
	return nil
}

// Delete removes a record. Deleting an id that does not exist is a no-op.
// The remote copy, if any, is left alone.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	before, err := getRecord(ctx, tx, id)
	if err != nil {
		return err
	}
	if before == nil {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM inspections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete inspection %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debugw("deleted inspection", "id", id)
	s.publish(before, nil)
	return nil
}

// MarkSynced records that version of record id reached the archive at ts.
// Returns a NotFoundError if the record no longer exists and a ChangedError,
// leaving the record unsynced, if it was edited after that version was read.
func (s *Store) MarkSynced(ctx context.Context, id, version int64, ts time.Time) error {
	ts = record.Millis(ts)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	before, err := getRecord(ctx, tx, id)
	if err != nil {
		return err
	}
	if before == nil {
		return &record.NotFoundError{ID: id}
	}
	if before.Version != version {
		return &record.ChangedError{ID: id, Version: version}
	}

	query := `UPDATE inspections SET is_synced = 1, cloud_sync_timestamp = ? WHERE id = ? AND version = ?`
	if _, err := tx.ExecContext(ctx, query, ts.UnixMilli(), id, version); err != nil {
		return fmt.Errorf("failed to mark inspection %d synced: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	after := *before
	after.IsSynced = true
	after.CloudSyncTimestamp = &ts
	s.publish(before, &after)
	return nil
}

// Get returns the record with the given id, or nil if there is none.
func (s *Store) Get(ctx context.Context, id int64) (*record.InspectionRecord, error) {
	return getRecord(ctx, s.conn, id)
}

// ListUnsynced returns a snapshot of every record awaiting a sync pass,
// newest inspection first.
func (s *Store) ListUnsynced(ctx context.Context) ([]record.InspectionRecord, error) {
	query := `SELECT ` + columns + ` FROM inspections WHERE is_synced = 0 ORDER BY inspection_date DESC, id DESC`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced inspections: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Query runs q once and returns the matching records, newest inspection first.
func (s *Store) Query(ctx context.Context, q Query) ([]record.InspectionRecord, error) {
	where, args := q.where()
	query := `SELECT ` + columns + ` FROM inspections`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY inspection_date DESC, id DESC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inspections: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Count returns the total number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM inspections").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count inspections: %w", err)
	}
	return count, nil
}

// UnsyncedCount returns the number of records awaiting a sync pass.
func (s *Store) UnsyncedCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM inspections WHERE is_synced = 0").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unsynced inspections: %w", err)
	}
	return count, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q queryer, id int64) (*record.InspectionRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+columns+` FROM inspections WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inspection %d: %w", id, err)
	}
	return rec, nil
}

// contentArgs returns the user-editable columns in insert/update order.
func contentArgs(r *record.InspectionRecord) []any {
	return []any{
		r.ComponentName,
		toNullString(r.ComponentPartNumber),
		r.InspectionDate.UnixMilli(),
		r.InspectorName,
		toNullString(r.BatchNumber),
		toNullString(r.SerialNumber),
		toNullFloat(r.VernierLength),
		toNullFloat(r.VernierWidth),
		toNullFloat(r.VernierHeight),
		toNullFloat(r.VernierDiameter),
		toNullFloat(r.MicrometerThickness),
		toNullFloat(r.MicrometerOuterDiameter),
		toNullFloat(r.MicrometerInnerDiameter),
		toNullFloat(r.HeightMasterMeasurement),
		toNullString(r.AdditionalMeasurements),
		string(r.Status),
		toNullString(r.Notes),
		toNullString(r.Remarks),
	}
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*record.InspectionRecord, error) {
	var r record.InspectionRecord
	var partNumber, batch, serial, additional, notes, remarks sql.NullString
	var vLength, vWidth, vHeight, vDiameter, mThickness, mOuter, mInner, height sql.NullFloat64
	var inspectionDate int64
	var status string
	var isSynced int
	var syncedAt sql.NullInt64

	err := sc.Scan(
		&r.ID,
		&r.ComponentName,
		&partNumber,
		&inspectionDate,
		&r.InspectorName,
		&batch,
		&serial,
		&vLength,
		&vWidth,
		&vHeight,
		&vDiameter,
		&mThickness,
		&mOuter,
		&mInner,
		&height,
		&additional,
		&status,
		&isSynced,
		&syncedAt,
		&notes,
		&remarks,
		&r.Version,
	)
	if err != nil {
		return nil, err
	}

	r.ComponentPartNumber = partNumber.String
	r.InspectionDate = time.UnixMilli(inspectionDate)
	r.BatchNumber = batch.String
	r.SerialNumber = serial.String
	r.VernierLength = nullFloatToPtr(vLength)
	r.VernierWidth = nullFloatToPtr(vWidth)
	r.VernierHeight = nullFloatToPtr(vHeight)
	r.VernierDiameter = nullFloatToPtr(vDiameter)
	r.MicrometerThickness = nullFloatToPtr(mThickness)
	r.MicrometerOuterDiameter = nullFloatToPtr(mOuter)
	r.MicrometerInnerDiameter = nullFloatToPtr(mInner)
	r.HeightMasterMeasurement = nullFloatToPtr(height)
	r.AdditionalMeasurements = additional.String
	r.Status = record.Status(status)
	r.IsSynced = isSynced != 0
	if syncedAt.Valid {
		ts := time.UnixMilli(syncedAt.Int64)
		r.CloudSyncTimestamp = &ts
	}
	r.Notes = notes.String
	r.Remarks = remarks.String

	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]record.InspectionRecord, error) {
	records := []record.InspectionRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inspection: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inspections: %w", err)
	}
	return records, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullFloatToPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

// escapeLike escapes the LIKE wildcards in s so it matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
