package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is a stored principal. TenantID is empty for platform admins.
type User struct {
	ID           string
	TenantID     string
	Email        string
	Name         string
	Role         string
	PasswordHash string
	Permissions  []string
	Active       bool
	CreatedAt    time.Time
}

const userColumns = `id, COALESCE(tenant_id::text, ''), email, name, role, COALESCE(password_hash, ''), permissions, active, created_at`

func scanUser(row rowScanner) (User, error) {
	var (
		u     User
		perms string
	)
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &perms, &u.Active, &u.CreatedAt); err != nil {
		return User{}, err
	}
	u.Permissions = splitPermissions(perms)
	return u, nil
}

// Permissions are stored as a comma-separated text column.
func splitPermissions(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// UserByEmail looks up an active user for login.
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(s.DB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) AND active`, email))
	if err != nil {
		return User{}, notFound(err)
	}
	return u, nil
}

// GetUser returns a user. A non-empty tenantID scopes the lookup.
func (s *Store) GetUser(ctx context.Context, tenantID, id string) (User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	args := []any{id}
	if tenantID != "" {
		q += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	u, err := scanUser(s.DB.QueryRowContext(ctx, q, args...))
	if err != nil {
		return User{}, notFound(err)
	}
	return u, nil
}

// ListUsersByRole lists a tenant's users holding role. An empty tenantID
// lists across tenants.
func (s *Store) ListUsersByRole(ctx context.Context, tenantID, role string, limit, offset int) ([]User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE role = $1`
	args := []any{role}
	if tenantID != "" {
		q += ` AND tenant_id = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		args = append(args, tenantID, limit, offset)
	} else {
		q += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateUserName renames a user of the given role inside a tenant.
func (s *Store) UpdateUserName(ctx context.Context, tenantID, role, id, name string) (User, error) {
	q := `UPDATE users SET name = $1, updated_at = now() WHERE id = $2 AND role = $3`
	args := []any{name, id, role}
	if tenantID != "" {
		q += ` AND tenant_id = $4`
		args = append(args, tenantID)
	}
	u, err := scanUser(s.DB.QueryRowContext(ctx, q+` RETURNING `+userColumns, args...))
	if err != nil {
		return User{}, notFound(err)
	}
	return u, nil
}

// EnsureUser inserts u unless a user with the same email exists.
func (s *Store) EnsureUser(ctx context.Context, u User) (User, bool, error) {
	existing, err := s.UserByEmail(ctx, u.Email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, fmt.Errorf("get user %s: %w", u.Email, err)
	}

	var tenant sql.NullString
	if u.TenantID != "" {
		tenant = sql.NullString{String: u.TenantID, Valid: true}
	}
	created, err := scanUser(s.DB.QueryRowContext(ctx,
		`INSERT INTO users (id, tenant_id, email, name, role, password_hash, permissions, active)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,true) RETURNING `+userColumns,
		u.ID, tenant, strings.ToLower(u.Email), u.Name, u.Role, u.PasswordHash, strings.Join(u.Permissions, ",")))
	if err != nil {
		return User{}, false, fmt.Errorf("insert user %s: %w", u.Email, err)
	}
	return created, true, nil
}
