package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consulate/internal/gate"
)

const (
	tenantID = "11111111-1111-4111-8111-111111111111"
	userID   = "aaaaaaaa-0000-4000-8000-000000000004"
	appID    = "bbbbbbbb-0000-4000-8000-000000000001"
)

var tenantCols = []string{"id", "name", "slug", "domain", "status", "plan"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestTenantByID(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("FROM tenants WHERE id = \\$1").
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows(tenantCols).AddRow(tenantID, "Acme", "acme", "portal.acme.test", "suspended", "pro"))

	tn, err := s.TenantByID(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", tn.Name)
	assert.Equal(t, gate.TenantSuspended, tn.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantLookups_NotFoundAndFailure(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("FROM tenants WHERE slug = \\$1 AND status = 'active'").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(tenantCols))
	mock.ExpectQuery("FROM tenants WHERE lower\\(domain\\)").
		WithArgs("ghost.test").
		WillReturnError(errors.New("connection reset"))

	_, err := s.ActiveTenantBySubdomain(context.Background(), "ghost")
	assert.ErrorIs(t, err, gate.ErrNotFound)

	_, err = s.ActiveTenantByDomain(context.Background(), "ghost.test")
	require.Error(t, err)
	assert.False(t, errors.Is(err, gate.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTenantStatus(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("UPDATE tenants SET status").
		WithArgs(tenantID, "suspended").
		WillReturnRows(sqlmock.NewRows(tenantCols).AddRow(tenantID, "Acme", "acme", "", "suspended", "pro"))

	tn, err := s.SetTenantStatus(context.Background(), tenantID, gate.TenantSuspended)
	require.NoError(t, err)
	assert.Equal(t, gate.TenantSuspended, tn.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceOwner(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("FROM users WHERE id = \\$1 AND role = 'client'").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id"}).AddRow(tenantID, userID))
	mock.ExpectQuery("FROM applications WHERE id = \\$1").
		WithArgs(appID).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "client_id"}))

	o, err := s.ResourceOwner(context.Background(), gate.ResourceClient, userID)
	require.NoError(t, err)
	assert.Equal(t, gate.Owner{TenantID: tenantID, OwnerID: userID}, o)

	_, err = s.ResourceOwner(context.Background(), gate.ResourceApplication, appID)
	assert.ErrorIs(t, err, gate.ErrNotFound)

	_, err = s.ResourceOwner(context.Background(), gate.ResourceKind("invoice"), appID)
	require.Error(t, err)
	assert.False(t, errors.Is(err, gate.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

var userCols = []string{"id", "tenant_id", "email", "name", "role", "password_hash", "permissions", "active", "created_at"}

func TestUserByEmail(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("FROM users WHERE lower\\(email\\) = lower\\(\\$1\\) AND active").
		WithArgs("Client@Acme.test").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(userID, tenantID, "client@acme.test", "Ada", "client", "$2a$hash", "clients:read, documents:write", true, time.Now()))

	u, err := s.UserByEmail(context.Background(), "Client@Acme.test")
	require.NoError(t, err)
	assert.Equal(t, tenantID, u.TenantID)
	assert.Equal(t, []string{"clients:read", "documents:write"}, u.Permissions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersByRole_Scoped(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("FROM users WHERE role = \\$1 AND tenant_id = \\$2").
		WithArgs("client", tenantID, 50, 0).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(userID, tenantID, "a@acme.test", "A", "client", "", "", true, time.Now()).
			AddRow("aaaaaaaa-0000-4000-8000-000000000009", tenantID, "b@acme.test", "B", "client", "", "", true, time.Now()))

	users, err := s.ListUsersByRole(context.Background(), tenantID, "client", 50, 0)
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Nil(t, users[0].Permissions)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReorderApplications(t *testing.T) {
	s, mock := newMock(t)
	other := "bbbbbbbb-0000-4000-8000-000000000002"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE applications SET position").WithArgs(0, appID, tenantID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE applications SET position").WithArgs(1, other, tenantID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.ReorderApplications(context.Background(), tenantID, []string{appID, other}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReorderApplications_ForeignIDRollsBack(t *testing.T) {
	s, mock := newMock(t)
	foreign := "bbbbbbbb-0000-4000-8000-000000000003"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE applications SET position").WithArgs(0, appID, tenantID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE applications SET position").WithArgs(1, foreign, tenantID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.ReorderApplications(context.Background(), tenantID, []string{appID, foreign})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTenant_ExistingIsReturned(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("FROM tenants WHERE slug = \\$1").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows(tenantCols).AddRow(tenantID, "Acme", "acme", "", "active", "pro"))

	tn, created, err := s.EnsureTenant(context.Background(), gate.Tenant{Slug: "acme", Name: "Acme"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, tenantID, tn.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAuditEventsBefore(t *testing.T) {
	s, mock := newMock(t)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM audit_events WHERE occurred_at < \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := s.DeleteAuditEventsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
