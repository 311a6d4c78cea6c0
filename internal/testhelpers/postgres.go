//go:build integration

// Package testhelpers starts a throwaway PostgreSQL for repository integration tests.
//
// Requirements:
//   - Docker daemon running and accessible
//   - Docker image: postgres:16-alpine
//
// Run with:
//
//	go test -tags integration ./internal/...
package testhelpers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/campus-events/backend/pkg/database"
)

const (
	pgUser     = "campus"
	pgPassword = "campus"
	pgDatabase = "campus_test"
)

// SetupPostgres starts a PostgreSQL container, applies the embedded migrations and
// returns a pool sized for concurrent tests. Everything is torn down by t.Cleanup.
func SetupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-based test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgUser,
			"POSTGRES_PASSWORD": pgPassword,
			"POSTGRES_DB":       pgDatabase,
		},
		// postgres logs readiness once for the init server and once for the real one
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get postgres host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", pgUser, pgPassword, host, port.Port(), pgDatabase)

	logger := zaptest.NewLogger(t)
	pool, err := database.NewPostgresPool(ctx, dsn, database.PoolOptions{MaxConns: 50}, logger)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := database.Migrate(ctx, pool, logger); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return pool
}

// SeedUser inserts a user with the given role and returns its ID.
func SeedUser(t *testing.T, pool *pgxpool.Pool, role string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	email := uuid.NewString() + "@campus.test"
	err := pool.QueryRow(context.Background(),
		`INSERT INTO users (email, password_hash, full_name, registration_number, role, shift)
		VALUES ($1, 'x', $2, $3, $4, 'both') RETURNING id`,
		email, "User "+email[:8], "RA-"+email[:8], role).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return id
}

// SeedEvent inserts an active event for both shifts.
func SeedEvent(t *testing.T, pool *pgxpool.Pool, createdBy uuid.UUID, capacity int) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	start := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	err := pool.QueryRow(context.Background(),
		`INSERT INTO events (title, capacity, starts_at, ends_at, created_by)
		VALUES ('Arch Week', $1, $2, $3, $4) RETURNING id`,
		capacity, start, start.Add(72*time.Hour), createdBy).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed event: %v", err)
	}
	return id
}

// SeedTalk inserts a talk of the event. speaker may be nil.
func SeedTalk(t *testing.T, pool *pgxpool.Pool, eventID uuid.UUID, capacity int, hours float64, speaker *uuid.UUID) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	err := pool.QueryRow(context.Background(),
		`INSERT INTO talks (event_id, title, speaker_id, capacity, starts_at, ends_at, credit_hours)
		VALUES ($1, 'Load paths', $2, $3, $4, $5, $6) RETURNING id`,
		eventID, speaker, capacity, start, start.Add(2*time.Hour), hours).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed talk: %v", err)
	}
	return id
}

// SeedEventEnrollment enrolls the student in the event directly.
func SeedEventEnrollment(t *testing.T, pool *pgxpool.Pool, studentID, eventID uuid.UUID) {
	t.Helper()
	if _, err := pool.Exec(context.Background(),
		`INSERT INTO event_enrollments (student_id, event_id) VALUES ($1, $2)`, studentID, eventID); err != nil {
		t.Fatalf("Failed to seed event enrollment: %v", err)
	}
}

// SeedTalkEnrollment enrolls the student in the talk and returns the enrollment ID.
func SeedTalkEnrollment(t *testing.T, pool *pgxpool.Pool, studentID, talkID uuid.UUID, present bool) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := pool.QueryRow(context.Background(),
		`INSERT INTO talk_enrollments (student_id, talk_id, present, present_at, status)
		VALUES ($1, $2, $3, CASE WHEN $3 THEN NOW() END, CASE WHEN $3 THEN 'present' ELSE 'not_yet' END)
		RETURNING id`, studentID, talkID, present).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed talk enrollment: %v", err)
	}
	return id
}

// Count runs a COUNT(*) query and returns the result.
func Count(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	return n
}
