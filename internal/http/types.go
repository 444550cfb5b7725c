package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"consulate/internal/gate"
	"consulate/internal/store"
)

// ErrorBody is the error half of the response envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Debug   map[string]any `json:"debug,omitempty"`
}

// ErrorResponse is written for every rejected request.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// DataResponse wraps a successful payload.
type DataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Success: false,
		Error:   ErrorBody{Code: code, Message: message},
	})
}

func writeData(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(DataResponse{Success: true, Data: data})
}

type LocalLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LocalLoginResponse struct {
	Token     string        `json:"token"`
	TokenType string        `json:"tokenType"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Principal PrincipalView `json:"principal"`
}

type PrincipalView struct {
	ID          string   `json:"id"`
	Role        string   `json:"role"`
	Email       string   `json:"email"`
	TenantID    string   `json:"tenantId,omitempty"`
	Permissions []string `json:"permissions"`
}

func principalView(p gate.Principal) PrincipalView {
	perms := make([]string, 0, p.Permissions.Len())
	for _, perm := range p.Permissions.List() {
		perms = append(perms, string(perm))
	}
	return PrincipalView{
		ID:          p.ID,
		Role:        p.Role.String(),
		Email:       p.Email,
		TenantID:    p.HomeTenantID,
		Permissions: perms,
	}
}

type TenantView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug,omitempty"`
	Domain string `json:"domain,omitempty"`
	Status string `json:"status"`
	Plan   string `json:"plan,omitempty"`
	// Source is how the tenant was resolved for this request.
	Source string `json:"source,omitempty"`
}

func tenantView(t gate.Tenant) TenantView {
	return TenantView{
		ID:     t.ID,
		Name:   t.Name,
		Slug:   t.Slug,
		Domain: t.Domain,
		Status: string(t.Status),
		Plan:   t.Plan,
	}
}

func tenantContextView(tc gate.TenantContext) TenantView {
	return TenantView{
		ID:     tc.ID,
		Name:   tc.Name,
		Domain: tc.Domain,
		Status: string(tc.Status),
		Plan:   tc.Plan,
		Source: string(tc.Source),
	}
}

// BrandingView is the public face of a tenant, safe to show before login.
type BrandingView struct {
	TenantID      string `json:"tenantId"`
	Name          string `json:"name"`
	Domain        string `json:"domain,omitempty"`
	Source        string `json:"source"`
	Authenticated bool   `json:"authenticated"`
}

type MeResponse struct {
	Principal     PrincipalView `json:"principal"`
	Tenant        *TenantView   `json:"tenant,omitempty"`
	CorrelationID string        `json:"correlationId"`
}

type UserView struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId,omitempty"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

func userView(u store.User) UserView {
	return UserView{
		ID:        u.ID,
		TenantID:  u.TenantID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

type ApplicationView struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId"`
	Title     string    `json:"title"`
	VisaType  string    `json:"visaType"`
	Status    string    `json:"status"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
}

func applicationView(a store.Application) ApplicationView {
	return ApplicationView{
		ID:        a.ID,
		ClientID:  a.ClientID,
		Title:     a.Title,
		VisaType:  a.VisaType,
		Status:    a.Status,
		Position:  a.Position,
		CreatedAt: a.CreatedAt,
	}
}

type DocumentView struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"clientId"`
	ApplicationID string    `json:"applicationId,omitempty"`
	FileName      string    `json:"fileName"`
	CreatedAt     time.Time `json:"createdAt"`
}

func documentView(d store.Document) DocumentView {
	return DocumentView{
		ID:            d.ID,
		ClientID:      d.ClientID,
		ApplicationID: d.ApplicationID,
		FileName:      d.FileName,
		CreatedAt:     d.CreatedAt,
	}
}

type UpdateClientRequest struct {
	Name string `json:"name"`
}

type UpdateTenantStatusRequest struct {
	Status string `json:"status"`
}

type ReorderApplicationsRequest struct {
	IDs []string `json:"ids"`
}
