package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/optistrat/adminauth/internal/auth/domain"
)

type challengesRepo struct {
	db dbtx
}

func scanChallenge(row *sql.Row) (domain.LoginChallenge, error) {
	var (
		c         domain.LoginChallenge
		createdAt string
		expiresAt string
	)

	err := row.Scan(&c.ID, &c.PrincipalID, &c.Origin, &c.Attempts, &createdAt, &expiresAt)
	if err != nil {
		return domain.LoginChallenge{}, mapNotFound(err)
	}

	if c.CreatedAt, err = decodeTime(createdAt); err != nil {
		return domain.LoginChallenge{}, err
	}
	if c.ExpiresAt, err = decodeTime(expiresAt); err != nil {
		return domain.LoginChallenge{}, err
	}
	return c, nil
}

func (r *challengesRepo) Create(ctx context.Context, c domain.LoginChallenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_challenges (id, principal_id, origin, attempts, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.PrincipalID, c.Origin, c.Attempts,
		encodeTime(c.CreatedAt), encodeTime(c.ExpiresAt))
	return mapConstraint(err)
}

func (r *challengesRepo) Get(ctx context.Context, id string) (domain.LoginChallenge, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, principal_id, origin, attempts, created_at, expires_at
		FROM login_challenges WHERE id = ?`, id)
	return scanChallenge(row)
}

func (r *challengesRepo) IncrementAttempts(ctx context.Context, id string) (domain.LoginChallenge, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE login_challenges SET attempts = attempts + 1
		WHERE id = ?
		RETURNING id, principal_id, origin, attempts, created_at, expires_at`, id)
	return scanChallenge(row)
}

func (r *challengesRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM login_challenges WHERE id = ?`, id)
	return err
}

func (r *challengesRepo) DeleteExpired(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM login_challenges WHERE expires_at < ?`,
		encodeTime(now))
	return err
}
