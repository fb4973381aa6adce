package calibration

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sitegate/sitegate/pkg"
)

// SQLiteBackend persists calibration records in a local SQLite database,
// scoped to one device/user so several profiles can share a file.
type SQLiteBackend struct {
	db    *sql.DB
	path  string
	scope string
}

// NewSQLiteBackend opens (creating if needed) the database at path
func NewSQLiteBackend(path, scope string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; records are last-writer-wins per site
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{
		db:    db,
		path:  path,
		scope: scope,
	}

	if err := b.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return b, nil
}

// initializeSchema creates the database tables
func (b *SQLiteBackend) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calibration_records (
		scope TEXT NOT NULL,
		site_id TEXT NOT NULL,
		offset_m REAL NOT NULL,
		sample_count INTEGER NOT NULL,
		last_updated_ms INTEGER NOT NULL,
		centroid_lat REAL NOT NULL,
		centroid_lon REAL NOT NULL,
		mean_accuracy_m REAL NOT NULL,
		accuracy_slope REAL NOT NULL DEFAULT 0,
		fit_r2 REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (scope, site_id)
	);
	`

	_, err := b.db.Exec(schema)
	return err
}

// Load returns every record in this backend's scope
func (b *SQLiteBackend) Load(ctx context.Context) ([]pkg.CalibrationRecord, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT site_id, offset_m, sample_count, last_updated_ms,
			centroid_lat, centroid_lon, mean_accuracy_m, accuracy_slope, fit_r2
		FROM calibration_records
		WHERE scope = ?
		ORDER BY site_id`, b.scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibrations: %w", err)
	}
	defer rows.Close()

	var records []pkg.CalibrationRecord
	for rows.Next() {
		var r pkg.CalibrationRecord
		if err := rows.Scan(&r.SiteID, &r.OffsetMeters, &r.SampleCount, &r.LastUpdatedMs,
			&r.Centroid.Latitude, &r.Centroid.Longitude, &r.MeanAccuracyMeters,
			&r.AccuracySlope, &r.FitR2); err != nil {
			return nil, fmt.Errorf("failed to scan calibration: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Save inserts or overwrites the record for its site
func (b *SQLiteBackend) Save(ctx context.Context, r pkg.CalibrationRecord) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO calibration_records (
			scope, site_id, offset_m, sample_count, last_updated_ms,
			centroid_lat, centroid_lon, mean_accuracy_m, accuracy_slope, fit_r2
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, site_id) DO UPDATE SET
			offset_m = excluded.offset_m,
			sample_count = excluded.sample_count,
			last_updated_ms = excluded.last_updated_ms,
			centroid_lat = excluded.centroid_lat,
			centroid_lon = excluded.centroid_lon,
			mean_accuracy_m = excluded.mean_accuracy_m,
			accuracy_slope = excluded.accuracy_slope,
			fit_r2 = excluded.fit_r2`,
		b.scope, r.SiteID, r.OffsetMeters, r.SampleCount, r.LastUpdatedMs,
		r.Centroid.Latitude, r.Centroid.Longitude, r.MeanAccuracyMeters, r.AccuracySlope, r.FitR2)
	if err != nil {
		return fmt.Errorf("failed to save calibration: %w", err)
	}
	return nil
}

// Delete removes the record for siteID; missing records are not an error
func (b *SQLiteBackend) Delete(ctx context.Context, siteID string) error {
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM calibration_records WHERE scope = ? AND site_id = ?`, b.scope, siteID)
	return err
}

// DeleteAll removes every record in this backend's scope
func (b *SQLiteBackend) DeleteAll(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM calibration_records WHERE scope = ?`, b.scope)
	return err
}

// Close closes the database
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
