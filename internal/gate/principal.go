package gate

import (
	"context"
	"log/slog"
	"strings"
)

const (
	minCredentialLen = 20
	maxCredentialLen = 4096
)

// Principal is the authenticated identity for a request.
type Principal struct {
	ID           string
	Role         Role
	HomeTenantID string
	Email        string
	Permissions  PermissionSet
}

// Privileged reports whether the principal bypasses tenant scoping.
func (p Principal) Privileged() bool { return p.Role.Privileged() }

// Claims is the verified payload handed over by the token codec.
type Claims struct {
	Subject     string
	Role        string
	TenantID    string
	Email       string
	Permissions []string
}

// TokenVerifier checks a bearer credential's signature and expiry.
type TokenVerifier interface {
	VerifyClaims(raw string) (Claims, error)
}

// PrincipalResolver turns the Authorization header into a Principal.
type PrincipalResolver struct {
	Verifier TokenVerifier
	Logger   *slog.Logger
}

func NewPrincipalResolver(v TokenVerifier, logger *slog.Logger) *PrincipalResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrincipalResolver{Verifier: v, Logger: logger}
}

func (r *PrincipalResolver) Name() string { return "principal" }

func (r *PrincipalResolver) Evaluate(ctx context.Context, ev *Evaluation) error {
	switch ev.Request.Route.Auth {
	case AuthNone:
		return nil
	case AuthOptional:
		p, candidate, err := r.Resolve(ev.Request.Authorization)
		if err != nil {
			if KindOf(err) != KindTokenMissing {
				r.Logger.DebugContext(ctx, "optional auth ignored credential",
					"request_id", ev.Request.CorrelationID,
					"path", ev.Request.Path,
					"code", KindOf(err).Code(),
				)
			}
			return nil
		}
		ev.Principal, ev.candidateTenantID = p, candidate
		return nil
	default:
		p, candidate, err := r.Resolve(ev.Request.Authorization)
		if err != nil {
			return err
		}
		ev.Principal, ev.candidateTenantID = p, candidate
		return nil
	}
}

// Resolve validates the raw header and returns the principal plus the
// candidate tenant id claimed by a non-privileged token.
func (r *PrincipalResolver) Resolve(header string) (*Principal, string, error) {
	if strings.TrimSpace(header) == "" {
		return nil, "", newError(KindTokenMissing, "Authorization header is required")
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return nil, "", newError(KindMalformedToken, "Authorization header must be 'Bearer <token>'")
	}
	credential := parts[1]
	if len(credential) < minCredentialLen || len(credential) > maxCredentialLen {
		return nil, "", newError(KindMalformedToken, "Bearer token has an invalid length")
	}

	claims, err := r.Verifier.VerifyClaims(credential)
	if err != nil {
		return nil, "", wrapError(KindInvalidOrExpiredToken, "Invalid or expired token", err)
	}

	p, err := principalFromClaims(claims)
	if err != nil {
		return nil, "", err
	}

	candidate := ""
	if !p.Privileged() {
		candidate = p.HomeTenantID
	}
	return p, candidate, nil
}

func principalFromClaims(c Claims) (*Principal, error) {
	id := strings.TrimSpace(c.Subject)
	email := strings.TrimSpace(c.Email)
	if id == "" || c.Role == "" || email == "" {
		return nil, newError(KindInvalidTokenPayload, "Token payload is missing required claims")
	}
	if !ValidID(id) {
		return nil, newError(KindInvalidTokenPayload, "Token subject is not a valid id")
	}
	if !strings.Contains(email, "@") {
		return nil, newError(KindInvalidTokenPayload, "Token email claim is invalid")
	}
	role, err := ParseRole(c.Role)
	if err != nil {
		return nil, wrapError(KindInvalidTokenPayload, "Token role claim is invalid", err)
	}
	perms, err := NewPermissionSet(c.Permissions)
	if err != nil {
		return nil, wrapError(KindInvalidTokenPayload, "Token permission claim is invalid", err)
	}

	return &Principal{
		ID:           NormalizeID(id),
		Role:         role,
		HomeTenantID: NormalizeID(strings.TrimSpace(c.TenantID)),
		Email:        strings.ToLower(email),
		Permissions:  perms,
	}, nil
}
