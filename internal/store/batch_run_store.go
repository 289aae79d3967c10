package store

import (
	"context"
	"time"

	"payouts/internal/db"
	"payouts/internal/models"

	"github.com/google/uuid"
)

// BatchRunStore treats the batch_runs row as a time-boxed distributed lock.
// The unique constraint on (run_type, run_key) plus one conditional UPDATE
// are the only mutual-exclusion primitives; there is no external lock
// manager.
type BatchRunStore struct {
	db DB
}

func NewBatchRunStore(database DB) *BatchRunStore {
	return &BatchRunStore{db: database}
}

const (
	SkipAlreadyFinalized = "batch-already-finalized"
	SkipLeaseActive      = "batch-lease-active"
	SkipLeaseRaced       = "batch-lease-raced"
)

type LeaseResult struct {
	Run           models.BatchRun
	Acquired      bool
	SkippedReason string
}

// TryAcquire inserts the run row for (runType, runKey). On a unique-constraint
// conflict it inspects the existing row: terminal status or an unexpired lease
// means skip, an expired lease goes through TryReclaim's atomic CAS.
func (s *BatchRunStore) TryAcquire(ctx context.Context, runType, runKey string, now time.Time, ttl time.Duration) (LeaseResult, error) {
	run := models.BatchRun{
		ID:             uuid.NewString(),
		RunType:        runType,
		RunKey:         runKey,
		Status:         models.RunProcessing,
		LeaseExpiresAt: now.Add(ttl),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_runs (id, run_type, run_key, status, lease_expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, '{}')
	`, run.ID, run.RunType, run.RunKey, run.Status, run.LeaseExpiresAt)
	if err == nil {
		return LeaseResult{Run: run, Acquired: true}, nil
	}
	if !db.IsUniqueViolation(err) {
		return LeaseResult{}, err
	}

	var existing models.BatchRun
	if err := s.db.GetContext(ctx, &existing, `
		SELECT id, run_type, run_key, status, lease_expires_at, metadata, started_at, completed_at
		FROM batch_runs
		WHERE run_type = $1 AND run_key = $2
	`, runType, runKey); err != nil {
		return LeaseResult{}, err
	}
	if existing.Status != models.RunProcessing {
		return LeaseResult{SkippedReason: SkipAlreadyFinalized}, nil
	}
	if existing.LeaseExpiresAt.After(now) {
		return LeaseResult{SkippedReason: SkipLeaseActive}, nil
	}
	return s.TryReclaim(ctx, existing, now, ttl)
}

// TryReclaim re-leases an expired run row with a single compare-and-swap
// UPDATE. Zero rows affected means another worker won the same race.
func (s *BatchRunStore) TryReclaim(ctx context.Context, run models.BatchRun, now time.Time, ttl time.Duration) (LeaseResult, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batch_runs
		SET status = 'processing', lease_expires_at = $1
		WHERE id = $2 AND lease_expires_at <= $3
	`, now.Add(ttl), run.ID, now)
	if err != nil {
		return LeaseResult{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return LeaseResult{}, err
	}
	if affected == 0 {
		return LeaseResult{SkippedReason: SkipLeaseRaced}, nil
	}
	run.Status = models.RunProcessing
	run.LeaseExpiresAt = now.Add(ttl)
	return LeaseResult{Run: run, Acquired: true}, nil
}

// Release finalizes the run and drops the lease by expiring it immediately.
func (s *BatchRunStore) Release(ctx context.Context, runID, finalStatus, metadata string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batch_runs
		SET status = $1, metadata = $2, completed_at = NOW(), lease_expires_at = NOW()
		WHERE id = $3
	`, finalStatus, metadata, runID)
	return err
}
