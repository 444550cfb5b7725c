package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"consulate/internal/config"
	"consulate/internal/gate"
	"consulate/internal/store"
)

// Seeder is the write side bootstrap needs.
type Seeder interface {
	EnsureTenant(ctx context.Context, t gate.Tenant) (gate.Tenant, bool, error)
	EnsureUser(ctx context.Context, u store.User) (store.User, bool, error)
}

// Run applies bootstrap configuration for tenants and users. It is
// idempotent: existing rows are left untouched.
func Run(ctx context.Context, cfg *config.Config, st Seeder) error {
	if cfg == nil || st == nil {
		return nil
	}

	// Tenants first so users can reference them by slug.
	slugs := make(map[string]string, len(cfg.Bootstrap.Tenants))
	for _, t := range cfg.Bootstrap.Tenants {
		slug := strings.ToLower(strings.TrimSpace(t.Slug))
		if slug == "" {
			continue
		}
		name := strings.TrimSpace(t.Name)
		if name == "" {
			name = slug
		}
		plan := strings.TrimSpace(t.Plan)
		if plan == "" {
			plan = "basic"
		}
		tenant, _, err := st.EnsureTenant(ctx, gate.Tenant{
			ID:     uuid.NewString(),
			Name:   name,
			Slug:   slug,
			Domain: strings.ToLower(strings.TrimSpace(t.Domain)),
			Status: gate.TenantActive,
			Plan:   plan,
		})
		if err != nil {
			return fmt.Errorf("bootstrap tenant %s: %w", slug, err)
		}
		slugs[slug] = tenant.ID
	}

	for _, u := range cfg.Bootstrap.Users {
		if err := bootstrapUser(ctx, st, u, slugs); err != nil {
			return err
		}
	}
	return nil
}

func bootstrapUser(ctx context.Context, st Seeder, u config.BootstrapUserConfig, slugs map[string]string) error {
	email := strings.TrimSpace(strings.ToLower(u.Email))
	if email == "" {
		return nil
	}
	role, err := gate.ParseRole(u.Role)
	if err != nil {
		return fmt.Errorf("bootstrap user %s: %w", email, err)
	}

	var tenantID string
	if !role.Privileged() {
		slug := strings.ToLower(strings.TrimSpace(u.Tenant))
		id, ok := slugs[slug]
		if !ok {
			return fmt.Errorf("bootstrap user %s: unknown tenant %q", email, u.Tenant)
		}
		tenantID = id
	}

	var hash string
	if strings.TrimSpace(u.Password) != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		hash = string(b)
	}

	_, _, err = st.EnsureUser(ctx, store.User{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Email:        email,
		Name:         strings.TrimSpace(u.Name),
		Role:         string(role),
		PasswordHash: hash,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("bootstrap user %s: %w", email, err)
	}
	return nil
}
