/**
 * PostgreSQL client for the card scan worker
 *
 * Persists scan job status and resolved results so the API layer can show
 * scan history and re-serve results without re-running OCR.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// ScanRecord is the persisted outcome of one scan job.
type ScanRecord struct {
	JobID          string
	SessionID      string
	Mode           string
	Status         string
	RecognizedText string
	Candidate      string

	// Set-code path
	CardName     string
	SetCode      string
	SetName      string
	Rarity       string
	Price        float64
	UsedFallback bool

	// Name path: ranked candidate names for disambiguation.
	MatchNames []string
	TopScore   float64

	DurationMs int64
	Error      map[string]interface{}
}

// sanitizeScore rounds a similarity score to 4 decimal places and clamps it
// to [0.0, 1.0]. Float64 representations like 0.9632000000000001 trip
// PostgreSQL NUMERIC casts otherwise.
func sanitizeScore(score float64) float64 {
	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return float64(int(score*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// SaveScanResult upserts the outcome of a scan job. The worker may finish a
// job before the API created its row, so insert-or-update keyed on job_id.
func (p *PostgresClient) SaveScanResult(ctx context.Context, rec *ScanRecord) error {
	if rec.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if rec.Status == "" {
		return fmt.Errorf("status is required")
	}

	errorJSON, err := json.Marshal(rec.Error)
	if err != nil {
		return fmt.Errorf("failed to marshal error details: %w", err)
	}

	query := `
		INSERT INTO cardscan.scan_results (
			job_id, session_id, mode, status, recognized_text, candidate,
			card_name, set_code, set_name, rarity, price, used_fallback,
			match_names, top_score, duration_ms, error_details, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14::NUMERIC(5,4), $15, $16::JSONB, NOW()
		)
		ON CONFLICT (job_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			mode = EXCLUDED.mode,
			status = EXCLUDED.status,
			recognized_text = EXCLUDED.recognized_text,
			candidate = EXCLUDED.candidate,
			card_name = EXCLUDED.card_name,
			set_code = EXCLUDED.set_code,
			set_name = EXCLUDED.set_name,
			rarity = EXCLUDED.rarity,
			price = EXCLUDED.price,
			used_fallback = EXCLUDED.used_fallback,
			match_names = EXCLUDED.match_names,
			top_score = EXCLUDED.top_score,
			duration_ms = EXCLUDED.duration_ms,
			error_details = EXCLUDED.error_details,
			updated_at = NOW()
	`

	_, err = p.db.ExecContext(ctx, query,
		rec.JobID,
		rec.SessionID,
		rec.Mode,
		rec.Status,
		rec.RecognizedText,
		rec.Candidate,
		rec.CardName,
		rec.SetCode,
		rec.SetName,
		rec.Rarity,
		rec.Price,
		rec.UsedFallback,
		pq.Array(rec.MatchNames),
		sanitizeScore(rec.TopScore),
		rec.DurationMs,
		string(errorJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save scan result: %w", err)
	}

	return nil
}

// UpdateJobStatus records a status transition without touching result data.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, jobID, status string, errDetails map[string]interface{}) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if status == "" {
		return fmt.Errorf("status is required")
	}

	errorJSON, err := json.Marshal(errDetails)
	if err != nil {
		return fmt.Errorf("failed to marshal error details: %w", err)
	}

	query := `
		INSERT INTO cardscan.scan_results (job_id, status, error_details, updated_at)
		VALUES ($1, $2, $3::JSONB, NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			error_details = EXCLUDED.error_details,
			updated_at = NOW()
	`

	if _, err := p.db.ExecContext(ctx, query, jobID, status, string(errorJSON)); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// GetScanResult loads a persisted scan result by job ID.
func (p *PostgresClient) GetScanResult(ctx context.Context, jobID string) (*ScanRecord, error) {
	query := `
		SELECT job_id, session_id, mode, status, recognized_text, candidate,
		       card_name, set_code, set_name, rarity, price, used_fallback,
		       match_names, top_score, duration_ms
		FROM cardscan.scan_results
		WHERE job_id = $1
	`

	rec := &ScanRecord{}
	var matchNames pq.StringArray
	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&rec.JobID,
		&rec.SessionID,
		&rec.Mode,
		&rec.Status,
		&rec.RecognizedText,
		&rec.Candidate,
		&rec.CardName,
		&rec.SetCode,
		&rec.SetName,
		&rec.Rarity,
		&rec.Price,
		&rec.UsedFallback,
		&matchNames,
		&rec.TopScore,
		&rec.DurationMs,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scan result not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scan result: %w", err)
	}

	rec.MatchNames = []string(matchNames)
	return rec, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	return p.db.Close()
}
