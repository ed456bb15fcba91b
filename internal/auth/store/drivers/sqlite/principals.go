package sqlite

import (
	"context"
	"database/sql"

	"github.com/optistrat/adminauth/internal/auth/domain"
)

type principalsRepo struct {
	db dbtx
}

const principalColumns = `id, email, display_name, password_hash, role_id, mfa_enabled, mfa_secret, created_at, updated_at`

func (r *principalsRepo) scanPrincipal(row *sql.Row) (domain.Principal, error) {
	var (
		p          domain.Principal
		mfaEnabled sql.NullString
		mfaSecret  sql.NullString
		createdAt  string
		updatedAt  string
	)

	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.PasswordHash, &p.RoleID,
		&mfaEnabled, &mfaSecret, &createdAt, &updatedAt)
	if err != nil {
		return domain.Principal{}, mapNotFound(err)
	}

	if p.MFAEnabled, err = decodeOptionalTime(mfaEnabled); err != nil {
		return domain.Principal{}, err
	}
	p.MFASecret = mapNullStringPtr(mfaSecret)

	if p.CreatedAt, err = decodeTime(createdAt); err != nil {
		return domain.Principal{}, err
	}
	if p.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return domain.Principal{}, err
	}
	return p, nil
}

func (r *principalsRepo) GetByID(ctx context.Context, id string) (domain.Principal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = ?`, id)
	return r.scanPrincipal(row)
}

func (r *principalsRepo) GetByEmail(ctx context.Context, email string) (domain.Principal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE email = ?`, email)
	return r.scanPrincipal(row)
}

func (r *principalsRepo) Create(ctx context.Context, p domain.Principal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO principals (id, email, display_name, password_hash, role_id, mfa_enabled, mfa_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, p.DisplayName, p.PasswordHash, p.RoleID,
		encodeOptionalTime(p.MFAEnabled), mapOptionalString(p.MFASecret),
		encodeTime(p.CreatedAt), encodeTime(p.UpdatedAt))
	return mapConstraint(err)
}

func (r *principalsRepo) UpdateMFASecret(ctx context.Context, principalID string, secret string) error {
	return r.touchUpdate(ctx,
		`UPDATE principals SET mfa_secret = ?, updated_at = ? WHERE id = ?`,
		secret, principalID)
}

func (r *principalsRepo) UpdateRole(ctx context.Context, principalID, roleID string) error {
	return r.touchUpdate(ctx,
		`UPDATE principals SET role_id = ?, updated_at = ? WHERE id = ?`,
		roleID, principalID)
}

func (r *principalsRepo) EnableMFA(ctx context.Context, principalID string) error {
	return r.touchUpdate(ctx,
		`UPDATE principals SET mfa_enabled = ?, updated_at = ? WHERE id = ?`,
		nowText(), principalID)
}

func (r *principalsRepo) DisableMFA(ctx context.Context, principalID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE principals SET mfa_enabled = NULL, mfa_secret = NULL, updated_at = ? WHERE id = ?`,
		nowText(), principalID)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *principalsRepo) GetMFAInfo(ctx context.Context, principalID string) (bool, *string, error) {
	var (
		mfaEnabled sql.NullString
		mfaSecret  sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT mfa_enabled, mfa_secret FROM principals WHERE id = ?`, principalID).
		Scan(&mfaEnabled, &mfaSecret)
	if err != nil {
		return false, nil, mapNotFound(err)
	}
	return mfaEnabled.Valid, mapNullStringPtr(mfaSecret), nil
}

func (r *principalsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// touchUpdate runs an UPDATE whose final two placeholders are updated_at
// and the principal id, mapping zero affected rows to ErrNotFound.
func (r *principalsRepo) touchUpdate(ctx context.Context, query string, first any, id string) error {
	res, err := r.db.ExecContext(ctx, query, first, nowText(), id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

