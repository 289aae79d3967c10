package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"payouts/internal/models"

	"github.com/lib/pq"
)

func TestBatchRunTryAcquireInsertsFreshLease(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.August, 24, 9, 0, 0, 0, time.UTC)
	inserted := false
	store := NewBatchRunStore(stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO batch_runs") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[1] != "weekly" || args[2] != "2026-W35" {
				t.Fatalf("unexpected args: %#v", args)
			}
			inserted = true
			return stubResult{rows: 1}, nil
		},
	})
	result, err := store.TryAcquire(ctx, "weekly", "2026-W35", now, 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inserted || !result.Acquired {
		t.Fatalf("expected acquired lease, got %#v", result)
	}
	if !result.Run.LeaseExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected lease expiry: %v", result.Run.LeaseExpiresAt)
	}
}

func TestBatchRunTryAcquireSkipsActiveLease(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewBatchRunStore(stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			return nil, &pq.Error{Code: "23505"}
		},
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			*dest.(*models.BatchRun) = models.BatchRun{
				ID:             "run-1",
				Status:         models.RunProcessing,
				LeaseExpiresAt: now.Add(5 * time.Minute),
			}
			return nil
		},
	})
	result, err := store.TryAcquire(ctx, "daily", "2026-08-24", now, 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Acquired || result.SkippedReason != SkipLeaseActive {
		t.Fatalf("expected %s, got %#v", SkipLeaseActive, result)
	}
}

func TestBatchRunTryAcquireSkipsFinalizedRun(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewBatchRunStore(stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			return nil, &pq.Error{Code: "23505"}
		},
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			*dest.(*models.BatchRun) = models.BatchRun{ID: "run-1", Status: models.RunCompleted}
			return nil
		},
	})
	result, err := store.TryAcquire(ctx, "daily", "2026-08-24", now, 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Acquired || result.SkippedReason != SkipAlreadyFinalized {
		t.Fatalf("expected %s, got %#v", SkipAlreadyFinalized, result)
	}
}

func TestBatchRunTryAcquireReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewBatchRunStore(stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if strings.Contains(query, "INSERT INTO batch_runs") {
				return nil, &pq.Error{Code: "23505"}
			}
			if !strings.Contains(query, "lease_expires_at <= $3") {
				t.Fatalf("reclaim must be a conditional update, got: %s", query)
			}
			return stubResult{rows: 1}, nil
		},
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			*dest.(*models.BatchRun) = models.BatchRun{
				ID:             "run-1",
				Status:         models.RunProcessing,
				LeaseExpiresAt: now.Add(-time.Minute),
			}
			return nil
		},
	})
	result, err := store.TryAcquire(ctx, "daily", "2026-08-24", now, 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Acquired || result.Run.ID != "run-1" {
		t.Fatalf("expected reclaimed lease on run-1, got %#v", result)
	}
}

func TestBatchRunTryAcquireLosesReclaimRace(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewBatchRunStore(stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if strings.Contains(query, "INSERT INTO batch_runs") {
				return nil, &pq.Error{Code: "23505"}
			}
			return stubResult{rows: 0}, nil
		},
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			*dest.(*models.BatchRun) = models.BatchRun{
				ID:             "run-1",
				Status:         models.RunProcessing,
				LeaseExpiresAt: now.Add(-time.Minute),
			}
			return nil
		},
	})
	result, err := store.TryAcquire(ctx, "daily", "2026-08-24", now, 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Acquired || result.SkippedReason != SkipLeaseRaced {
		t.Fatalf("expected %s, got %#v", SkipLeaseRaced, result)
	}
}

func TestBatchRunRelease(t *testing.T) {
	ctx := context.Background()
	released := false
	store := NewBatchRunStore(stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "UPDATE batch_runs") || !strings.Contains(query, "lease_expires_at = NOW()") {
				t.Fatalf("release must expire the lease, got: %s", query)
			}
			if args[0] != models.RunCompleted || args[2] != "run-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			released = true
			return stubResult{rows: 1}, nil
		},
	})
	if err := store.Release(ctx, "run-1", models.RunCompleted, `{"processed":3}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !released {
		t.Fatal("expected release update")
	}
}
