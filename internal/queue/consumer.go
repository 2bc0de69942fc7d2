/**
 * Queue consumer for the card scan worker
 *
 * Consumes scan jobs from the Redis-backed queue. A job carries a photo of
 * a card (inline buffer or file path) plus the scan mode; the handler runs
 * the scan pipeline and persists the outcome.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tcgvault/cardscan-worker/internal/capture"
	"github.com/tcgvault/cardscan-worker/internal/errors"
	"github.com/tcgvault/cardscan-worker/internal/pipeline"
	"github.com/tcgvault/cardscan-worker/internal/resolve"
	"github.com/tcgvault/cardscan-worker/internal/storage"
)

// TaskScanCard is the asynq task type for a single card scan.
const TaskScanCard = "scan-card"

// ScanJob is the payload of a scan task. ImageBuffer is base64 in JSON;
// jobs referencing large images on shared storage use ImagePath instead.
type ScanJob struct {
	JobID       string `json:"jobId"`
	UserID      string `json:"userId,omitempty"`
	Mode        string `json:"mode"`
	Filename    string `json:"filename,omitempty"`
	ImageBuffer []byte `json:"imageBuffer,omitempty"`
	ImagePath   string `json:"imagePath,omitempty"`
}

// Consumer handles job consumption from the Redis queue
type Consumer struct {
	client  *asynq.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	scanner *pipeline.Scanner
	store   *storage.PostgresClient
	config  *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Scanner           *pipeline.Scanner
	Store             *storage.PostgresClient // optional, nil disables persistence
	ProcessingTimeout int64                   // milliseconds per job (default: 120000)
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("Scanner is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 5s, 10s, 20s
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, error=%v", task.Type(), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:  client,
		server:  server,
		mux:     mux,
		scanner: cfg.Scanner,
		store:   cfg.Store,
		config:  cfg,
	}

	mux.HandleFunc(TaskScanCard, consumer.handleScanCard)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start() error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			log.Printf("Queue consumer error: %v", err)
		}
	}()

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop() error {
	log.Printf("Stopping queue consumer...")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	log.Printf("Queue consumer stopped")
	return nil
}

// handleScanCard processes a single scan job
func (c *Consumer) handleScanCard(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var job ScanJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal scan job: %w", err)
	}

	mode := capture.ScanMode(job.Mode)
	if !mode.Valid() {
		return fmt.Errorf("scan job %s has unknown mode %q", job.JobID, job.Mode)
	}

	log.Printf("[Job %s] Scanning card: mode=%s, filename=%s, inline=%d bytes",
		job.JobID, job.Mode, job.Filename, len(job.ImageBuffer))

	c.updateStatus(ctx, job.JobID, "processing", nil)

	timeout := 120000 * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	device, err := c.jobDevice(&job)
	if err != nil {
		c.updateStatus(ctx, job.JobID, "failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("scan job %s has no usable image: %w", job.JobID, err)
	}

	result, err := c.scanner.ScanDevice(scanCtx, device, mode, nil)
	duration := time.Since(startTime)

	if err != nil {
		log.Printf("[Job %s] Scan failed after %v: %v", job.JobID, duration, err)
		c.persistFailure(ctx, &job, err, duration)

		if isTerminalScanError(err) {
			// Terminal-but-normal outcome: report it as done, not as a
			// retryable queue failure.
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("card scan failed: %w", err)
	}

	log.Printf("[Job %s] Scan completed in %v: candidate=%s, matches=%d",
		job.JobID, duration, result.Candidate, len(result.Matches))

	c.persistSuccess(ctx, &job, result, duration)
	return nil
}

// jobDevice picks the imaging source for a job: inline buffer first, then
// a path on shared storage.
func (c *Consumer) jobDevice(job *ScanJob) (capture.Device, error) {
	if len(job.ImageBuffer) > 0 {
		return capture.NewBytesDevice(job.ImageBuffer), nil
	}
	if job.ImagePath != "" {
		return capture.NewFileDevice(job.ImagePath), nil
	}
	return nil, fmt.Errorf("job carries neither an image buffer nor an image path")
}

func (c *Consumer) persistSuccess(ctx context.Context, job *ScanJob, result *pipeline.ScanResult, duration time.Duration) {
	if c.store == nil {
		return
	}

	rec := &storage.ScanRecord{
		JobID:          job.JobID,
		SessionID:      result.SessionID,
		Mode:           string(result.Mode),
		Status:         "completed",
		RecognizedText: result.RecognizedText,
		Candidate:      result.Candidate,
		DurationMs:     duration.Milliseconds(),
	}

	if result.Match != nil {
		rec.CardName = result.Match.Name
		rec.SetCode = result.Match.SetCode
		rec.SetName = result.Match.SetName
		rec.Rarity = result.Match.Rarity
		rec.Price = result.Match.Price
		rec.UsedFallback = result.Match.UsedFallback
	}
	for _, m := range result.Matches {
		rec.MatchNames = append(rec.MatchNames, m.Name)
	}
	if len(result.Matches) > 0 {
		rec.TopScore = result.Matches[0].Score
	}

	if err := c.store.SaveScanResult(ctx, rec); err != nil {
		log.Printf("[Job %s] Warning: failed to persist scan result: %v", job.JobID, err)
	}
}

func (c *Consumer) persistFailure(ctx context.Context, job *ScanJob, scanErr error, duration time.Duration) {
	if c.store == nil {
		return
	}

	details := map[string]interface{}{
		"error":          scanErr.Error(),
		"processingTime": duration.Milliseconds(),
	}
	var se *errors.ScanError
	if stderrors.As(scanErr, &se) {
		details = se.ToMap()
		details["processingTime"] = duration.Milliseconds()
	}

	if err := c.store.UpdateJobStatus(ctx, job.JobID, "failed", details); err != nil {
		log.Printf("[Job %s] Warning: failed to persist failure: %v", job.JobID, err)
	}
}

func (c *Consumer) updateStatus(ctx context.Context, jobID, status string, details map[string]interface{}) {
	if c.store == nil {
		return
	}
	if err := c.store.UpdateJobStatus(ctx, jobID, status, details); err != nil {
		log.Printf("[Job %s] Warning: failed to update status to %s: %v", jobID, status, err)
	}
}

// isTerminalScanError reports whether the scan reached a definitive outcome
// that a retry cannot change (bad candidate text, card not found, nothing
// recognized). Provider and engine failures stay retryable.
func isTerminalScanError(err error) bool {
	return errors.HasCode(err, errors.ErrorTooShort) ||
		errors.HasCode(err, errors.ErrorNotFound) ||
		errors.HasCode(err, errors.ErrorEmptyResult)
}
