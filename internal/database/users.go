package database

import (
	"context"
	"fmt"
	"strings"

	"labreserve/internal/models"
)

type userRepo struct{ q queryer }

const userColumns = `id, name, email, role, status, department, password_hash, created_at, updated_at`

func (r userRepo) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

func (r userRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`,
		models.NormalizeEmail(email))
	u, err := scanUser(row)
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

func (r userRepo) CreateUser(ctx context.Context, user *models.User) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES (`+placeholders(9)+`)`,
		user.ID,
		user.Name,
		user.Email,
		user.Role,
		user.Status,
		user.Department,
		user.PasswordHash,
		user.CreatedAt.UTC(),
		user.UpdatedAt.UTC(),
	)
	if err != nil {
		return translate(err)
	}
	return nil
}

// UpdateUser never changes the role.
func (r userRepo) UpdateUser(ctx context.Context, user *models.User) error {
	res, err := r.q.ExecContext(ctx, `UPDATE users SET name = ?, email = ?, status = ?, department = ?,
			password_hash = ?, updated_at = ? WHERE id = ?`,
		user.Name,
		user.Email,
		user.Status,
		user.Department,
		user.PasswordHash,
		user.UpdatedAt.UTC(),
		user.ID,
	)
	if err != nil {
		return translate(err)
	}
	return affected(res)
}

func (r userRepo) ListUsers(ctx context.Context, filter models.UserFilter) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE 1 = 1`
	var args []any
	if filter.Role != "" {
		query += ` AND role = ?`
		args = append(args, filter.Role)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		query += ` AND (name LIKE ? OR email LIKE ? OR department LIKE ?)`
		like := "%" + term + "%"
		args = append(args, like, like, like)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.Status,
		&u.Department,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
