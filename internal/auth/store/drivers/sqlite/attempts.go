package sqlite

import (
	"context"
	"time"

	"github.com/optistrat/adminauth/internal/auth/domain"
)

type attemptsRepo struct {
	db dbtx
}

func (r *attemptsRepo) Get(ctx context.Context, origin, endpoint string) (domain.AttemptRecord, error) {
	var (
		rec         domain.AttemptRecord
		windowStart string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT origin, endpoint, attempt_count, window_start
		FROM auth_attempts WHERE origin = ? AND endpoint = ?`,
		origin, endpoint).
		Scan(&rec.Origin, &rec.Endpoint, &rec.Count, &windowStart)
	if err != nil {
		return domain.AttemptRecord{}, mapNotFound(err)
	}

	if rec.WindowStart, err = decodeTime(windowStart); err != nil {
		return domain.AttemptRecord{}, err
	}
	return rec, nil
}

func (r *attemptsRepo) Start(ctx context.Context, rec domain.AttemptRecord) error {
	// Upsert; an existing row means the previous window elapsed and is
	// being replaced, not accumulated.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_attempts (origin, endpoint, attempt_count, window_start)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (origin, endpoint)
		DO UPDATE SET attempt_count = excluded.attempt_count, window_start = excluded.window_start`,
		rec.Origin, rec.Endpoint, rec.Count, encodeTime(rec.WindowStart))
	return err
}

func (r *attemptsRepo) Increment(ctx context.Context, origin, endpoint string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE auth_attempts SET attempt_count = attempt_count + 1
		WHERE origin = ? AND endpoint = ?
		RETURNING attempt_count`,
		origin, endpoint).Scan(&count)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return count, nil
}

func (r *attemptsRepo) Delete(ctx context.Context, origin, endpoint string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_attempts WHERE origin = ? AND endpoint = ?`,
		origin, endpoint)
	return err
}

func (r *attemptsRepo) DeleteStale(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_attempts WHERE window_start < ?`,
		encodeTime(cutoff))
	return err
}
