package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

const runColumns = `id, video_name, reference_name, reference_embedding, reference_bbox,
	interval_seconds, threshold, total_frames, total_detections, total_faces_found,
	failed_frames, max_similarity, message, language, elapsed_ms, created_at`

// RunRepository provides PostgreSQL-backed storage of analysis runs
type RunRepository struct {
	pool *Pool
}

var _ database.RunWriter = (*RunRepository)(nil)

// NewRunRepository creates a new PostgreSQL run repository
func NewRunRepository(pool *Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// Get retrieves a run with its matches, returns nil if not found
func (r *RunRepository) Get(ctx context.Context, id string) (*database.StoredRun, error) {
	run, err := scanRunRow(r.pool.QueryRow(ctx, "SELECT "+runColumns+" FROM analysis_runs WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT frame_index, timestamp_seconds, confidence, bbox
		FROM analysis_matches
		WHERE run_id = $1
		ORDER BY match_index
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	run.Matches = []database.StoredMatch{}
	for rows.Next() {
		var m database.StoredMatch
		var bbox pq.Float64Array
		if err := rows.Scan(&m.FrameIndex, &m.Timestamp, &m.Confidence, &bbox); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.BBox = bbox
		run.Matches = append(run.Matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return &run, nil
}

// List returns runs without matches, newest first
func (r *RunRepository) List(ctx context.Context, limit, offset int) ([]database.StoredRun, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM analysis_runs
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []database.StoredRun{}
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Count returns the total number of stored runs
func (r *RunRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM analysis_runs").Scan(&count); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return count, nil
}

// FindByReference finds runs with a nearby reference face using L2 distance (<->).
// The dimension guard sits in a CASE so pgvector never compares vectors of
// different sizes.
func (r *RunRepository) FindByReference(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.StoredRun, []float64, error) {
	if len(embedding) == 0 {
		return []database.StoredRun{}, []float64{}, nil
	}

	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+runColumns+`, distance FROM (
			SELECT `+runColumns+`,
				CASE WHEN reference_dim = $2 THEN reference_embedding <-> $1::vector END AS distance
			FROM analysis_runs
			WHERE reference_embedding IS NOT NULL
		) candidates
		WHERE distance IS NOT NULL AND distance < $3
		ORDER BY distance
		LIMIT $4
	`, pgvector.NewVector(embedding), len(embedding), maxDistance, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar runs: %w", err)
	}
	defer rows.Close()

	runs := []database.StoredRun{}
	distances := []float64{}
	for rows.Next() {
		var dist float64
		run, err := scanRunRow(rows, &dist)
		if err != nil {
			return nil, nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate similar runs: %w", err)
	}
	return runs, distances, nil
}

// Save stores a run and its matches, replacing any run with the same ID
func (r *RunRepository) Save(ctx context.Context, run *database.StoredRun) error {
	if run.ID == "" {
		return errors.New("run ID is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM analysis_runs WHERE id = $1", run.ID); err != nil {
		return fmt.Errorf("delete existing run: %w", err)
	}

	var vec any
	if len(run.ReferenceEmbedding) > 0 {
		vec = pgvector.NewVector(run.ReferenceEmbedding)
	}
	var refBox any
	if len(run.ReferenceBox) > 0 {
		refBox = pq.Array(run.ReferenceBox)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO analysis_runs (id, video_name, reference_name, reference_embedding, reference_dim,
		                           reference_bbox, interval_seconds, threshold, total_frames, total_detections,
		                           total_faces_found, failed_frames, max_similarity, message, language,
		                           elapsed_ms, created_at)
		VALUES ($1, $2, $3, $4::vector, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		run.ID,
		run.VideoName,
		run.ReferenceName,
		vec,
		len(run.ReferenceEmbedding),
		refBox,
		run.IntervalSeconds,
		run.Threshold,
		run.TotalFrames,
		run.TotalDetections,
		run.TotalFacesFound,
		run.FailedFrames,
		run.MaxSimilarity,
		run.Message,
		run.Language,
		run.ElapsedMS,
		run.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	if len(run.Matches) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO analysis_matches (run_id, match_index, frame_index, timestamp_seconds, confidence, bbox)
			VALUES ($1, $2, $3, $4, $5, $6)
		`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for i, m := range run.Matches {
			if _, err := stmt.ExecContext(ctx, run.ID, i, m.FrameIndex, m.Timestamp, m.Confidence, pq.Array(m.BBox)); err != nil {
				return fmt.Errorf("insert match %s/%d: %w", run.ID, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Delete removes a run; its matches go with it via ON DELETE CASCADE
func (r *RunRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM analysis_runs WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

func scanRunRow(scanner interface{ Scan(...any) error }, extraDest ...any) (database.StoredRun, error) {
	var run database.StoredRun
	var vec sql.NullString
	var refBox pq.Float64Array

	dest := []any{
		&run.ID,
		&run.VideoName,
		&run.ReferenceName,
		&vec,
		&refBox,
		&run.IntervalSeconds,
		&run.Threshold,
		&run.TotalFrames,
		&run.TotalDetections,
		&run.TotalFacesFound,
		&run.FailedFrames,
		&run.MaxSimilarity,
		&run.Message,
		&run.Language,
		&run.ElapsedMS,
		&run.CreatedAt,
	}
	dest = append(dest, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		return run, err
	}

	if vec.Valid {
		var v pgvector.Vector
		if err := v.Scan(vec.String); err != nil {
			return run, fmt.Errorf("parse reference embedding: %w", err)
		}
		run.ReferenceEmbedding = v.Slice()
	}
	if len(refBox) > 0 {
		run.ReferenceBox = refBox
	}
	return run, nil
}
