package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reel/internal/models"
	"reel/internal/pkg/errors"
)

// PostgresStore is the durable JobStore. Claim exclusivity comes from
// FOR UPDATE SKIP LOCKED; completion and failure re-check the lease token
// under a row lock.
type PostgresStore struct {
	pool   *pgxpool.Pool
	policy Policy
	now    func() time.Time
}

func NewPostgresStore(pool *pgxpool.Pool, p Policy) *PostgresStore {
	return &PostgresStore{pool: pool, policy: p, now: time.Now}
}

// Connect opens a pgx pool and verifies it with a ping.
func Connect(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "queue.connect", "parse database URL")
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, classify(err, "queue.connect", "connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(err, "queue.connect", "ping database")
	}
	return pool, nil
}

const jobColumns = `j.id, j.prompt, j.contact, j.state, j.attempts, j.max_attempts,
	COALESCE(j.result, ''), COALESCE(j.failure_reason, ''), COALESCE(j.last_error, ''),
	COALESCE(j.lease_owner, ''), COALESCE(j.lease_token, ''), j.lease_expires_at,
	j.run_at, j.created_at, j.updated_at, j.finished_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var state string
	err := row.Scan(&j.ID, &j.Payload.Prompt, &j.Payload.Contact, &state, &j.Attempts, &j.MaxAttempts,
		&j.Result, &j.FailureReason, &j.LastError,
		&j.LeaseOwner, &j.LeaseToken, &j.LeaseExpiresAt,
		&j.RunAt, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	j.State = models.State(state)
	return &j, nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, p models.Payload) (*models.Job, error) {
	j := newJob(uuid.NewString(), p, s.policy.MaxAttempts, s.now().UTC())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, prompt, contact, state, attempts, max_attempts, run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6, $6, $6)`,
		j.ID, p.Prompt, p.Contact, string(j.State), j.MaxAttempts, j.CreatedAt)
	if err != nil {
		return nil, classify(err, "queue.enqueue", "insert job")
	}
	return j, nil
}

func (s *PostgresStore) Claim(ctx context.Context, owner string) (*models.Job, error) {
	now := s.now().UTC()

	j, err := scanJob(s.pool.QueryRow(ctx,
		`WITH next AS (
			SELECT id FROM jobs
			WHERE state = 'queued' AND run_at <= $1
			ORDER BY run_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j
		SET state = 'active', attempts = j.attempts + 1,
			lease_owner = $2, lease_token = $3, lease_expires_at = $4, updated_at = $1
		FROM next
		WHERE j.id = next.id
		RETURNING `+jobColumns,
		now, owner, uuid.NewString(), now.Add(s.policy.Lease)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "queue.claim", "claim job")
	}
	return j, nil
}

// mutate loads job id under a row lock, applies fn and writes back the
// mutable columns when fn reports a change.
func (s *PostgresStore) mutate(ctx context.Context, op, id string, fn func(j *models.Job) (bool, error)) (*models.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NotFound("job", id)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classify(err, op, "begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("job", id)
	}
	if err != nil {
		return nil, classify(err, op, "lock job")
	}

	changed, err := fn(j)
	if err != nil {
		return j, err
	}
	if !changed {
		return j, nil
	}

	if err := writeJob(ctx, tx, j); err != nil {
		return nil, classify(err, op, "update job")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err, op, "commit")
	}
	return j, nil
}

func writeJob(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	_, err := tx.Exec(ctx,
		`UPDATE jobs SET
			state = $2, attempts = $3,
			result = NULLIF($4, ''), failure_reason = NULLIF($5, ''), last_error = NULLIF($6, ''),
			lease_owner = NULLIF($7, ''), lease_token = NULLIF($8, ''), lease_expires_at = $9,
			run_at = $10, updated_at = $11, finished_at = $12
		 WHERE id = $1`,
		j.ID, string(j.State), j.Attempts,
		j.Result, j.FailureReason, j.LastError,
		j.LeaseOwner, j.LeaseToken, j.LeaseExpiresAt,
		j.RunAt, j.UpdatedAt, j.FinishedAt)
	return err
}

func (s *PostgresStore) Complete(ctx context.Context, id, leaseToken, result string) error {
	_, err := s.mutate(ctx, "queue.complete", id, func(j *models.Job) (bool, error) {
		return completeJob(j, leaseToken, result, s.now().UTC())
	})
	return err
}

func (s *PostgresStore) Fail(ctx context.Context, id, leaseToken, reason string, retryable bool) (models.State, error) {
	j, err := s.mutate(ctx, "queue.fail", id, func(j *models.Job) (bool, error) {
		if err := failJob(j, leaseToken, reason, retryable, s.now().UTC(), s.policy); err != nil {
			return false, err
		}
		return true, nil
	})
	if j == nil {
		return "", err
	}
	return j.State, err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NotFound("job", id)
	}

	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("job", id)
	}
	if err != nil {
		return nil, classify(err, "queue.get", "get job")
	}
	return j, nil
}

func (s *PostgresStore) List(ctx context.Context, f models.ListFilter) ([]*models.Job, error) {
	f = f.Normalize()

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs j
		 WHERE ($1 = '' OR j.state = $1)
		 ORDER BY j.created_at DESC
		 LIMIT $2`, string(f.State), f.Limit)
	if err != nil {
		return nil, classify(err, "queue.list", "list jobs")
	}
	defer rows.Close()

	jobs := make([]*models.Job, 0, f.Limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, classify(err, "queue.list", "scan job")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "queue.list", "list jobs")
	}
	return jobs, nil
}

func (s *PostgresStore) Counts(ctx context.Context) (models.Counts, error) {
	var c models.Counts

	rows, err := s.pool.Query(ctx, `SELECT state, count(*) FROM jobs GROUP BY state`)
	if err != nil {
		return c, classify(err, "queue.counts", "count jobs")
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return c, classify(err, "queue.counts", "scan count")
		}
		c.Add(models.State(state), n)
	}
	if err := rows.Err(); err != nil {
		return c, classify(err, "queue.counts", "count jobs")
	}
	return c, nil
}

func (s *PostgresStore) ReclaimExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, classify(err, "queue.reclaim", "begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs j
		 WHERE j.state = 'active' AND j.lease_expires_at < $1
		 FOR UPDATE SKIP LOCKED`, now)
	if err != nil {
		return 0, classify(err, "queue.reclaim", "select expired leases")
	}
	var expired []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return 0, classify(err, "queue.reclaim", "scan job")
		}
		expired = append(expired, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, classify(err, "queue.reclaim", "select expired leases")
	}

	for _, j := range expired {
		applyFailure(j, leaseExpiredReason, true, now, s.policy)
		if err := writeJob(ctx, tx, j); err != nil {
			return 0, classify(err, "queue.reclaim", "update job")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, classify(err, "queue.reclaim", "commit")
	}
	return int64(len(expired)), nil
}

func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE state IN ('queued', 'active')`)
	if err != nil {
		return 0, classify(err, "queue.purge", "purge jobs")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) PruneFinished(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE state = 'completed' AND finished_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, classify(err, "queue.prune", "prune jobs")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify(err, "queue.ping", "ping database")
	}
	return nil
}
