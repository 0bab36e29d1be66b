package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/radarcloud/internal/radar"
)

// ErrNotFound is returned when a cloud ID does not exist.
var ErrNotFound = errors.New("cloud not found")

// CloudSummary is a stored cloud without its points.
type CloudSummary struct {
	CloudID    string                `json:"cloud_id"`
	RunID      string                `json:"run_id"`
	FrameID    string                `json:"frame_id"`
	Timestamp  time.Time             `json:"timestamp"`
	Stats      radar.ProjectionStats `json:"stats"`
	RecordedAt time.Time             `json:"recorded_at"`
}

// StoredCloud is a stored cloud with its points.
type StoredCloud struct {
	CloudSummary
	Points []radar.OutputPoint `json:"points"`
}

// Cloud converts the stored record back into a radar.Cloud.
func (s StoredCloud) Cloud() radar.Cloud {
	return radar.Cloud{FrameID: s.FrameID, Timestamp: s.Timestamp, Points: s.Points, Stats: s.Stats}
}

// RecordCloud stores c and its points in one transaction and returns the
// new cloud ID.
func (db *DB) RecordCloud(ctx context.Context, runID string, c radar.Cloud) (string, error) {
	id := uuid.NewString()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO clouds (
			cloud_id, run_id, frame_id, stamp_unix_nanos, input_count,
			out_of_range, speed_rejected, included, compensated, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, runID, c.FrameID, c.Timestamp.UnixNano(), c.Stats.Input,
		c.Stats.OutOfRange, c.Stats.SpeedRejected, c.Stats.Included, c.Stats.Compensated,
		time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert cloud: %w", err)
	}

	if len(c.Points) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO cloud_points (
				cloud_id, target_id, x, y, z, snr, range_m, speed_mps, azimuth_deg, elevation_deg
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return "", fmt.Errorf("failed to prepare point insert: %w", err)
		}
		defer stmt.Close()
		for _, p := range c.Points {
			if _, err := stmt.ExecContext(ctx, id, p.TargetID, p.X, p.Y, p.Z, p.SNR, p.Range, p.Speed, p.Azimuth, p.Elevation); err != nil {
				return "", fmt.Errorf("failed to insert point %d: %w", p.TargetID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit cloud: %w", err)
	}
	return id, nil
}

// RecentClouds lists the newest clouds first.
func (db *DB) RecentClouds(ctx context.Context, limit int) ([]CloudSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `SELECT cloud_id, run_id, frame_id, stamp_unix_nanos, input_count,
			out_of_range, speed_rejected, included, compensated, recorded_at
		FROM clouds ORDER BY recorded_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clouds := []CloudSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		clouds = append(clouds, s)
	}
	return clouds, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (CloudSummary, error) {
	var (
		s                    CloudSummary
		stampNanos, recorded int64
	)
	err := row.Scan(&s.CloudID, &s.RunID, &s.FrameID, &stampNanos, &s.Stats.Input,
		&s.Stats.OutOfRange, &s.Stats.SpeedRejected, &s.Stats.Included, &s.Stats.Compensated, &recorded)
	if err != nil {
		return CloudSummary{}, err
	}
	s.Timestamp = time.Unix(0, stampNanos).UTC()
	s.RecordedAt = time.Unix(0, recorded).UTC()
	return s, nil
}

// CloudByID loads one cloud with its points ordered by target ID.
func (db *DB) CloudByID(ctx context.Context, id string) (StoredCloud, error) {
	row := db.QueryRowContext(ctx, `SELECT cloud_id, run_id, frame_id, stamp_unix_nanos, input_count,
			out_of_range, speed_rejected, included, compensated, recorded_at
		FROM clouds WHERE cloud_id = ?`, id)
	summary, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredCloud{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return StoredCloud{}, err
	}

	rows, err := db.QueryContext(ctx, `SELECT target_id, x, y, z, snr, range_m, speed_mps, azimuth_deg, elevation_deg
		FROM cloud_points WHERE cloud_id = ? ORDER BY target_id`, id)
	if err != nil {
		return StoredCloud{}, err
	}
	defer rows.Close()

	out := StoredCloud{CloudSummary: summary, Points: []radar.OutputPoint{}}
	for rows.Next() {
		var p radar.OutputPoint
		if err := rows.Scan(&p.TargetID, &p.X, &p.Y, &p.Z, &p.SNR, &p.Range, &p.Speed, &p.Azimuth, &p.Elevation); err != nil {
			return StoredCloud{}, err
		}
		out.Points = append(out.Points, p)
	}
	return out, rows.Err()
}

// CountClouds returns the number of stored clouds.
func (db *DB) CountClouds() (int64, error) {
	var n int64
	err := db.QueryRow("SELECT COUNT(*) FROM clouds").Scan(&n)
	return n, err
}

// PruneClouds deletes all but the newest keep clouds and returns how many
// were removed. Points go with them.
func (db *DB) PruneClouds(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := db.ExecContext(ctx, `DELETE FROM clouds WHERE cloud_id NOT IN (
			SELECT cloud_id FROM clouds ORDER BY recorded_at DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune clouds: %w", err)
	}
	return res.RowsAffected()
}

// CloudSink publishes pipeline clouds into the database, optionally keeping
// only the newest Retain clouds.
type CloudSink struct {
	DB     *DB
	RunID  string
	Retain int

	written int
}

// Publish stores c. When Retain is set, old clouds are pruned every Retain
// writes.
func (s *CloudSink) Publish(ctx context.Context, c radar.Cloud) error {
	if _, err := s.DB.RecordCloud(ctx, s.RunID, c); err != nil {
		return err
	}
	s.written++
	if s.Retain > 0 && s.written%s.Retain == 0 {
		if _, err := s.DB.PruneClouds(ctx, s.Retain); err != nil {
			return err
		}
	}
	return nil
}
