package sqlite

import (
	"context"
	"database/sql"

	"github.com/optistrat/adminauth/internal/auth/domain"
)

type rolesRepo struct {
	db dbtx
}

func (r *rolesRepo) scanRole(row *sql.Row) (domain.Role, error) {
	var (
		role      domain.Role
		createdAt string
		updatedAt string
	)

	err := row.Scan(&role.ID, &role.Name, &createdAt, &updatedAt)
	if err != nil {
		return domain.Role{}, mapNotFound(err)
	}

	if role.CreatedAt, err = decodeTime(createdAt); err != nil {
		return domain.Role{}, err
	}
	if role.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return domain.Role{}, err
	}
	return role, nil
}

func (r *rolesRepo) GetByID(ctx context.Context, id string) (domain.Role, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM roles WHERE id = ?`, id)
	return r.scanRole(row)
}

func (r *rolesRepo) GetByName(ctx context.Context, name string) (domain.Role, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM roles WHERE name = ?`, name)
	return r.scanRole(row)
}

func (r *rolesRepo) Create(ctx context.Context, role domain.Role) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		role.ID, role.Name, encodeTime(role.CreatedAt), encodeTime(role.UpdatedAt))
	return mapConstraint(err)
}
