// Package calibration recovers each camera's focal length and pointing
// angles from a ball at a known rig position, persists the results into the
// system configuration, and keeps a local history of calibration runs.
package calibration

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS calibration_runs (
	id TEXT PRIMARY KEY,
	camera_num INTEGER NOT NULL,
	rig_type INTEGER NOT NULL,
	enclosure INTEGER NOT NULL,
	focal_length_mm REAL,
	angle_x_deg REAL,
	angle_y_deg REAL,
	samples INTEGER NOT NULL,
	failures INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calibration_runs_created
	ON calibration_runs(created_at DESC);
`

// Run is one recorded calibration attempt.
type Run struct {
	ID            string
	CameraNum     int
	RigType       int
	Enclosure     int
	FocalLengthMM float64
	AngleXDeg     float64
	AngleYDeg     float64
	Samples       int
	Failures      int
	Outcome       string
	CreatedAt     time.Time
}

// Store keeps calibration provenance in a local sqlite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the history database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening calibration store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising calibration schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Record inserts a run, assigning an ID and timestamp if unset.
func (s *Store) Record(run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO calibration_runs
		(id, camera_num, rig_type, enclosure, focal_length_mm, angle_x_deg,
		 angle_y_deg, samples, failures, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CameraNum, run.RigType, run.Enclosure, run.FocalLengthMM,
		run.AngleXDeg, run.AngleYDeg, run.Samples, run.Failures, run.Outcome,
		run.CreatedAt)
	if err != nil {
		return Run{}, fmt.Errorf("recording calibration run: %w", err)
	}
	return run, nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, camera_num, rig_type, enclosure, focal_length_mm,
		       angle_x_deg, angle_y_deg, samples, failures, outcome, created_at
		FROM calibration_runs
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying calibration runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.CameraNum, &r.RigType, &r.Enclosure,
			&r.FocalLengthMM, &r.AngleXDeg, &r.AngleYDeg, &r.Samples,
			&r.Failures, &r.Outcome, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
