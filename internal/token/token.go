package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"consulate/internal/gate"
)

// claims are the JWT claims carried by bearer tokens.
type claims struct {
	Role        string   `json:"role"`
	TenantID    string   `json:"tid,omitempty"`
	Email       string   `json:"email"`
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// Codec issues and verifies HS256 bearer tokens.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(secret, issuer string, ttl time.Duration) (*Codec, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Codec{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// TTL is how long issued tokens stay valid.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs a token for p. The home tenant is omitted for privileged roles.
func (c *Codec) Issue(p gate.Principal) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(c.ttl)

	cl := claims{
		Role:  string(p.Role),
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    c.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if !p.Privileged() {
		cl.TenantID = p.HomeTenantID
	}
	for _, perm := range p.Permissions.List() {
		cl.Permissions = append(cl.Permissions, string(perm))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyClaims checks signature, algorithm, issuer and expiry and returns
// the raw claims. Shape validation is left to the caller.
func (c *Codec) VerifyClaims(raw string) (gate.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return gate.Claims{}, err
	}
	cl, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return gate.Claims{}, errors.New("invalid token claims")
	}

	return gate.Claims{
		Subject:     cl.Subject,
		Role:        cl.Role,
		TenantID:    cl.TenantID,
		Email:       cl.Email,
		Permissions: cl.Permissions,
	}, nil
}
