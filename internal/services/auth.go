package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"consulate/internal/gate"
	"consulate/internal/store"
)

var (
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrAccountMisconfigured = errors.New("account has an invalid role or permission set")
)

// UserFinder is the store lookup used by login.
type UserFinder interface {
	UserByEmail(ctx context.Context, email string) (store.User, error)
}

// TokenIssuer signs bearer tokens for an authenticated principal.
type TokenIssuer interface {
	Issue(p gate.Principal) (string, time.Time, error)
}

// AuthService encapsulates the local email/password login flow.
type AuthService interface {
	LoginLocal(ctx context.Context, email, password string) (*LocalAuthResult, error)
}

type LocalAuthResult struct {
	Principal gate.Principal
	Token     string
	ExpiresAt time.Time
}

type authService struct {
	users  UserFinder
	tokens TokenIssuer
}

func NewAuthService(users UserFinder, tokens TokenIssuer) AuthService {
	return &authService{users: users, tokens: tokens}
}

// dummyHash keeps the unknown-email path as slow as a real comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("consulate-timing-equaliser"), bcrypt.MinCost)

func (s *authService) LoginLocal(ctx context.Context, email, password string) (*LocalAuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	p, err := PrincipalFromUser(user)
	if err != nil {
		return nil, err
	}
	raw, expiresAt, err := s.tokens.Issue(p)
	if err != nil {
		return nil, err
	}
	return &LocalAuthResult{Principal: p, Token: raw, ExpiresAt: expiresAt}, nil
}

// PrincipalFromUser maps a stored user onto the closed role and
// permission enums.
func PrincipalFromUser(u store.User) (gate.Principal, error) {
	role, err := gate.ParseRole(u.Role)
	if err != nil {
		return gate.Principal{}, ErrAccountMisconfigured
	}
	perms, err := gate.NewPermissionSet(u.Permissions)
	if err != nil {
		return gate.Principal{}, ErrAccountMisconfigured
	}
	if !role.Privileged() && u.TenantID == "" {
		return gate.Principal{}, ErrAccountMisconfigured
	}
	return gate.Principal{
		ID:           gate.NormalizeID(u.ID),
		Role:         role,
		HomeTenantID: gate.NormalizeID(u.TenantID),
		Email:        strings.ToLower(u.Email),
		Permissions:  perms,
	}, nil
}
