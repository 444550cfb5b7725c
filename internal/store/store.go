package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"consulate/internal/gate"
)

// ErrNotFound is the gate sentinel so resolvers can tell a miss from an
// I/O failure.
var ErrNotFound = gate.ErrNotFound

// Store wraps access to the database on a shared, pooled *sql.DB.
type Store struct {
	DB *sql.DB
}

// New creates a new Store that uses a shared *sql.DB with pooling.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

// Open opens a pgx-backed pool and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const tenantColumns = `id, name, slug, COALESCE(domain, ''), status, plan`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (gate.Tenant, error) {
	var (
		t      gate.Tenant
		status string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Domain, &status, &t.Plan); err != nil {
		return gate.Tenant{}, err
	}
	t.Status = gate.TenantStatus(status)
	return t, nil
}

// TenantByID returns a tenant regardless of status; the caller checks it.
func (s *Store) TenantByID(ctx context.Context, id string) (gate.Tenant, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if err != nil {
		return gate.Tenant{}, notFound(err)
	}
	return t, nil
}

func (s *Store) ActiveTenantBySubdomain(ctx context.Context, slug string) (gate.Tenant, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1 AND status = 'active'`, slug)
	t, err := scanTenant(row)
	if err != nil {
		return gate.Tenant{}, notFound(err)
	}
	return t, nil
}

func (s *Store) ActiveTenantByDomain(ctx context.Context, domain string) (gate.Tenant, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE lower(domain) = lower($1) AND status = 'active'`, domain)
	t, err := scanTenant(row)
	if err != nil {
		return gate.Tenant{}, notFound(err)
	}
	return t, nil
}

// ListTenants returns tenants ordered by name.
func (s *Store) ListTenants(ctx context.Context, limit, offset int) ([]gate.Tenant, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []gate.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTenantStatus updates a tenant's status. The next request resolving
// the tenant sees the change since nothing is cached.
func (s *Store) SetTenantStatus(ctx context.Context, id string, status gate.TenantStatus) (gate.Tenant, error) {
	row := s.DB.QueryRowContext(ctx,
		`UPDATE tenants SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+tenantColumns,
		id, string(status))
	t, err := scanTenant(row)
	if err != nil {
		return gate.Tenant{}, notFound(err)
	}
	return t, nil
}

// EnsureTenant inserts the tenant keyed by slug, or returns the existing row.
func (s *Store) EnsureTenant(ctx context.Context, t gate.Tenant) (gate.Tenant, bool, error) {
	existing, err := scanTenant(s.DB.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, t.Slug))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return gate.Tenant{}, false, fmt.Errorf("get tenant %s: %w", t.Slug, err)
	}

	var domain sql.NullString
	if t.Domain != "" {
		domain = sql.NullString{String: t.Domain, Valid: true}
	}
	status := t.Status
	if status == "" {
		status = gate.TenantActive
	}
	created, err := scanTenant(s.DB.QueryRowContext(ctx,
		`INSERT INTO tenants (id, name, slug, domain, status, plan) VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+tenantColumns,
		t.ID, t.Name, t.Slug, domain, string(status), t.Plan))
	if err != nil {
		return gate.Tenant{}, false, fmt.Errorf("insert tenant %s: %w", t.Slug, err)
	}
	return created, true, nil
}

// DeleteAuditEventsBefore prunes audit events that occurred before cutoff.
func (s *Store) DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM audit_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit events: %w", err)
	}
	return res.RowsAffected()
}
