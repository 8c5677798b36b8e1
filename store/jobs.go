package store

import (
	"database/sql"
	"errors"
	"time"
)

// Job is one run of a print job, from the first report carrying its name.
type Job struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	WeightGrams   *float64   `json:"weight_grams,omitempty"`
	ThumbnailPath string     `json:"thumbnail_path,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

const jobColumns = `id, name, weight_grams, thumbnail_path, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	j := &Job{}
	var weight sql.NullFloat64
	var startedAt, completedAt any
	if err := row.Scan(&j.ID, &j.Name, &weight, &j.ThumbnailPath, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	if weight.Valid {
		w := weight.Float64
		j.WeightGrams = &w
	}
	j.StartedAt = parseTime(startedAt)
	j.CompletedAt = parseTimePtr(completedAt)
	return j, nil
}

// RecordJobStart opens a ledger row for a new run of name.
func (db *DB) RecordJobStart(name string) error {
	_, err := db.CreateJob(name)
	return err
}

// CreateJob inserts a job row and returns its ID.
func (db *DB) CreateJob(name string) (int64, error) {
	return db.insert(`INSERT INTO jobs (name) VALUES (?)`, name)
}

// latestJobID returns the most recent run of name.
func (db *DB) latestJobID(name string) (int64, error) {
	var id int64
	err := db.QueryRow(db.Q(`SELECT id FROM jobs WHERE name = ? ORDER BY id DESC LIMIT 1`), name).Scan(&id)
	return id, err
}

// SetJobAssets stores the weight and thumbnail of the latest run of name.
// A nil weight or empty path leaves the stored value untouched.
func (db *DB) SetJobAssets(name string, weightGrams *float64, thumbnailPath string) error {
	id, err := db.latestJobID(name)
	if err != nil {
		return err
	}
	if weightGrams != nil {
		if _, err := db.Exec(db.Q(`UPDATE jobs SET weight_grams = ? WHERE id = ?`), *weightGrams, id); err != nil {
			return err
		}
	}
	if thumbnailPath != "" {
		if _, err := db.Exec(db.Q(`UPDATE jobs SET thumbnail_path = ? WHERE id = ?`), thumbnailPath, id); err != nil {
			return err
		}
	}
	return nil
}

// MarkJobComplete stamps the completion time of the latest run of name.
// A run already marked complete keeps its first completion time.
func (db *DB) MarkJobComplete(name string) error {
	id, err := db.latestJobID(name)
	if errors.Is(err, sql.ErrNoRows) {
		// Completion seen before the start, e.g. after a restart mid-job.
		if id, err = db.CreateJob(name); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	_, err = db.Exec(db.Q(`UPDATE jobs SET completed_at = `+db.dialect.Now()+` WHERE id = ? AND completed_at IS NULL`), id)
	return err
}

// GetJob returns a job by ID.
func (db *DB) GetJob(id int64) (*Job, error) {
	return scanJob(db.QueryRow(db.Q(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id))
}

// ListRecentJobs returns up to limit jobs, newest first.
func (db *DB) ListRecentJobs(limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(db.Q(`SELECT `+jobColumns+` FROM jobs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
