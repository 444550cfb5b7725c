package store

import (
	"context"
	"fmt"
	"time"

	"consulate/internal/gate"
)

var ownerQueries = map[gate.ResourceKind]string{
	gate.ResourceUser:        `SELECT COALESCE(tenant_id::text, ''), id FROM users WHERE id = $1`,
	gate.ResourceTeamMember:  `SELECT COALESCE(tenant_id::text, ''), id FROM users WHERE id = $1 AND role = 'team_member'`,
	gate.ResourceClient:      `SELECT COALESCE(tenant_id::text, ''), id FROM users WHERE id = $1 AND role = 'client'`,
	gate.ResourceApplication: `SELECT tenant_id, client_id FROM applications WHERE id = $1`,
	gate.ResourceDocument:    `SELECT tenant_id, client_id FROM documents WHERE id = $1`,
}

// ResourceOwner returns the tenant and owning principal of a resource.
func (s *Store) ResourceOwner(ctx context.Context, kind gate.ResourceKind, id string) (gate.Owner, error) {
	q, ok := ownerQueries[kind]
	if !ok {
		return gate.Owner{}, fmt.Errorf("no owner query for resource kind %q", kind)
	}
	var o gate.Owner
	if err := s.DB.QueryRowContext(ctx, q, id).Scan(&o.TenantID, &o.OwnerID); err != nil {
		return gate.Owner{}, notFound(err)
	}
	return o, nil
}

type Application struct {
	ID        string
	TenantID  string
	ClientID  string
	Title     string
	VisaType  string
	Status    string
	Position  int
	CreatedAt time.Time
}

// GetApplication returns an application. A non-empty tenantID scopes the lookup.
func (s *Store) GetApplication(ctx context.Context, tenantID, id string) (Application, error) {
	q := `SELECT id, tenant_id, client_id, title, visa_type, status, position, created_at FROM applications WHERE id = $1`
	args := []any{id}
	if tenantID != "" {
		q += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	var a Application
	err := s.DB.QueryRowContext(ctx, q, args...).
		Scan(&a.ID, &a.TenantID, &a.ClientID, &a.Title, &a.VisaType, &a.Status, &a.Position, &a.CreatedAt)
	if err != nil {
		return Application{}, notFound(err)
	}
	return a, nil
}

// ReorderApplications sets position to the index in ids, all or nothing.
// Every id must belong to tenantID.
func (s *Store) ReorderApplications(ctx context.Context, tenantID string, ids []string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, id := range ids {
		res, err := tx.ExecContext(ctx,
			`UPDATE applications SET position = $1, updated_at = now() WHERE id = $2 AND tenant_id = $3`,
			i, id, tenantID)
		if err != nil {
			return fmt.Errorf("reorder application %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("reorder application %s: %w", id, err)
		} else if n == 0 {
			return fmt.Errorf("application %s: %w", id, ErrNotFound)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	return nil
}

type Document struct {
	ID            string
	TenantID      string
	ClientID      string
	ApplicationID string
	FileName      string
	CreatedAt     time.Time
}

// GetDocument returns a document. A non-empty tenantID scopes the lookup.
func (s *Store) GetDocument(ctx context.Context, tenantID, id string) (Document, error) {
	q := `SELECT id, tenant_id, client_id, COALESCE(application_id::text, ''), file_name, created_at FROM documents WHERE id = $1`
	args := []any{id}
	if tenantID != "" {
		q += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	var d Document
	err := s.DB.QueryRowContext(ctx, q, args...).
		Scan(&d.ID, &d.TenantID, &d.ClientID, &d.ApplicationID, &d.FileName, &d.CreatedAt)
	if err != nil {
		return Document{}, notFound(err)
	}
	return d, nil
}
