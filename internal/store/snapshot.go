package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Snapshot records one annotated image saved to disk.
type Snapshot struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	CameraID       int       `json:"camera_id"`
	Threshold      float64   `json:"threshold"`
	DetectionCount int       `json:"detection_count"`
	Labels         []string  `json:"labels"`
	CreatedAt      time.Time `json:"created_at"`
}

// SnapshotRepository provides access to the snapshot index.
type SnapshotRepository struct {
	db *sql.DB
}

// Snapshots returns the snapshot repository for this store.
func (s *Store) Snapshots() *SnapshotRepository {
	return &SnapshotRepository{db: s.db}
}

// Create inserts a new snapshot row. CreatedAt is set when zero.
func (r *SnapshotRepository) Create(snap *Snapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}

	labels := snap.Labels
	if labels == nil {
		labels = []string{}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(
		`INSERT INTO snapshots (id, filename, camera_id, threshold, detection_count, labels, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Filename, snap.CameraID, snap.Threshold, snap.DetectionCount, string(data), snap.CreatedAt,
	)
	return err
}

// GetByID retrieves a snapshot by its ID.
func (r *SnapshotRepository) GetByID(id string) (*Snapshot, error) {
	row := r.db.QueryRow(
		`SELECT id, filename, camera_id, threshold, detection_count, labels, created_at
		 FROM snapshots WHERE id = ?`,
		id,
	)

	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return snap, nil
}

// List returns the most recent snapshots first. limit <= 0 means no limit.
func (r *SnapshotRepository) List(limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, filename, camera_id, threshold, detection_count, labels, created_at
		 FROM snapshots ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return snaps, nil
}

// Count returns the number of recorded snapshots.
func (r *SnapshotRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(s scanner) (*Snapshot, error) {
	snap := &Snapshot{}
	var labels string

	err := s.Scan(&snap.ID, &snap.Filename, &snap.CameraID, &snap.Threshold, &snap.DetectionCount, &labels, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(labels), &snap.Labels); err != nil {
		return nil, err
	}
	return snap, nil
}
