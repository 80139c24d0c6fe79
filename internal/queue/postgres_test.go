package queue

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"reel/internal/pkg/errors"
	"reel/internal/ports"
)

// setupTestDB starts Postgres, applies the embedded migrations and returns
// a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("reel_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(connStr))
	require.NoError(t, RunMigrations(connStr), "second run must be a no-op")

	pool, err := Connect(ctx, connStr, 20)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)

	runStoreContract(t, func(t *testing.T, clock *fakeClock) ports.JobStore {
		_, err := pool.Exec(context.Background(), `TRUNCATE jobs`)
		require.NoError(t, err)

		s := NewPostgresStore(pool, testPolicy)
		s.now = clock.Now
		return s
	})
}

func TestPostgresStoreUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := NewPostgresStore(pool, testPolicy)
	ctx := context.Background()

	_, err := s.Get(ctx, "4f1d6a2e-8a53-4d8e-9b8f-000000000000")
	require.True(t, errors.IsNotFound(err))

	pool.Close()

	_, err = s.Get(ctx, "4f1d6a2e-8a53-4d8e-9b8f-000000000000")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnavailable), "closed pool must read as unavailable, got %v", err)
	assert.True(t, errors.IsRetryable(err))
	assert.False(t, errors.IsNotFound(err))

	assert.True(t, errors.IsCode(s.Ping(ctx), errors.CodeUnavailable))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code errors.Code
	}{
		{"connection exception", &pgconn.PgError{Code: "08006"}, errors.CodeUnavailable},
		{"too many connections", &pgconn.PgError{Code: "53300"}, errors.CodeUnavailable},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, errors.CodeUnavailable},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, errors.CodeUnavailable},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, errors.CodeInternal},
		{"check violation", &pgconn.PgError{Code: "23514"}, errors.CodeInternal},
		{"deadline", context.DeadlineExceeded, errors.CodeTimeout},
		{"dial failure", assert.AnError, errors.CodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, errors.GetCode(classify(tt.err, "op", "msg")))
		})
	}
	assert.Nil(t, classify(nil, "op", "msg"))
	assert.True(t, IsUndefinedTable(&pgconn.PgError{Code: "42P01"}))
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", migrateURL("postgres://u:p@h:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://h/db", migrateURL("postgresql://h/db"))
	assert.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}
