package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

// openTestDB connects to the database named by POSTGRES_URI and skips the
// test when none is configured.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	uri := os.Getenv("POSTGRES_URI")
	if uri == "" {
		t.Skip("POSTGRES_URI not set")
	}

	db, err := sql.Open("postgres", uri)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping database: %v", err)
	}
	return db
}

func addPostgresRecord(t *testing.T, repo ScheduledPostRepository, at time.Time) int64 {
	t.Helper()

	ctx := context.Background()
	id, err := repo.Add(ctx, record(1, at))
	if err != nil {
		t.Fatalf("add record: %v", err)
	}
	t.Cleanup(func() { _ = repo.Remove(context.Background(), id) })
	return id
}

func TestPostgresRepo_ClaimPendingOnce(t *testing.T) {
	repo := NewScheduledPostRepository(openTestDB(t))
	ctx := context.Background()
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	id := addPostgresRecord(t, repo, time.Now().UTC().Add(time.Hour))

	first, err := repo.ClaimPending(ctx, id)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	second, err := repo.ClaimPending(ctx, id)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if !first || second {
		t.Errorf("expected claims true then false, got %v then %v", first, second)
	}

	if ok, _ := repo.MarkDispatching(ctx, id); !ok {
		t.Fatal("claimed record should move to DISPATCHING")
	}
	if ok, _ := repo.MarkDispatching(ctx, id); ok {
		t.Error("second MarkDispatching must fail")
	}
}

func TestPostgresRepo_ReleaseStaleSkipsDispatching(t *testing.T) {
	repo := NewScheduledPostRepository(openTestDB(t))
	ctx := context.Background()
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	// Far in the past so rows from other tests cannot share the cutoff.
	at := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	claimed := addPostgresRecord(t, repo, at)
	dispatching := addPostgresRecord(t, repo, at)
	for _, id := range []int64{claimed, dispatching} {
		if ok, err := repo.ClaimPending(ctx, id); err != nil || !ok {
			t.Fatalf("claim %d: %v %v", id, ok, err)
		}
	}
	if ok, err := repo.MarkDispatching(ctx, dispatching); err != nil || !ok {
		t.Fatalf("mark dispatching: %v %v", ok, err)
	}

	if _, err := repo.ReleaseStale(ctx, at.Add(time.Minute)); err != nil {
		t.Fatalf("release stale: %v", err)
	}
	if ok, _ := repo.ClaimPending(ctx, claimed); !ok {
		t.Error("released record should be claimable again")
	}
	if ok, _ := repo.ClaimPending(ctx, dispatching); ok {
		t.Error("DISPATCHING record must not be released")
	}

	n, err := repo.ExpireOverdue(ctx, at.Add(time.Minute))
	if err != nil {
		t.Fatalf("expire overdue: %v", err)
	}
	if n != 1 {
		t.Errorf("expected only the DISPATCHING row to expire, got %d", n)
	}
	if ok, _ := repo.MarkDispatching(ctx, claimed); !ok {
		t.Error("claimed row must survive expiry")
	}
}
