package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/ditto-assistant/txt2img/pkg/models"
)

// Receipt records one successful generation.
type Receipt struct {
	ID              int64
	JobID           string
	Model           models.Family
	Width           int
	Height          int
	NumImages       int
	Seed            uint64
	Cost            float64
	StorageKey      string
	ContentType     string
	DurationSeconds float64
}

// Insert inserts a new receipt into the database.
// It updates the Receipt's ID with the ID from the database.
func (r *Receipt) Insert(ctx context.Context, d *sql.DB) error {
	res, err := d.ExecContext(ctx,
		`INSERT INTO receipts (job_id, model, service_type, width, height, num_images,
			seed, cost, storage_key, content_type, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, string(r.Model), string(r.Model.ServiceType()), r.Width, r.Height, r.NumImages,
		strconv.FormatUint(r.Seed, 10), r.Cost, r.StorageKey, r.ContentType, r.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	return nil
}

// GetByJobID loads the receipt written for r.JobID.
func (r *Receipt) GetByJobID(ctx context.Context, d *sql.DB) error {
	var model, seed string
	err := d.QueryRowContext(ctx, `
		SELECT id, model, width, height, num_images, seed, cost, storage_key, content_type, duration_seconds
		FROM receipts WHERE job_id = ? ORDER BY id DESC LIMIT 1`, r.JobID).Scan(
		&r.ID, &model, &r.Width, &r.Height, &r.NumImages, &seed, &r.Cost,
		&r.StorageKey, &r.ContentType, &r.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to get receipt for job %s: %w", r.JobID, err)
	}
	r.Model = models.Family(model)
	r.Seed, err = strconv.ParseUint(seed, 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse seed %q: %w", seed, err)
	}
	return nil
}

// Usage totals receipts for one model.
type Usage struct {
	Model models.Family
	Jobs  int
	Cost  float64
}

// GetUsage returns per-model totals, most expensive first.
func GetUsage(ctx context.Context, d *sql.DB) ([]Usage, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT model, COUNT(*), COALESCE(SUM(cost), 0)
		FROM receipts GROUP BY model ORDER BY SUM(cost) DESC, model`)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()
	var usage []Usage
	for rows.Next() {
		var (
			u     Usage
			model string
		)
		if err := rows.Scan(&model, &u.Jobs, &u.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		u.Model = models.Family(model)
		usage = append(usage, u)
	}
	return usage, rows.Err()
}
