package http

import (
	"time"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/session"
)

// ─── Requests ───

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type ConfirmEmailRequest struct {
	Token string `json:"token"`
	Code  string `json:"code,omitempty"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TOTPConfirmRequest struct {
	FlowToken string `json:"flow_token"`
	Code      string `json:"code"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type PasswordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type TOTPDisableRequest struct {
	Code string `json:"code"`
}

// ApplicationRequest es el payload que empuja el servicio de configuración.
// Sin basic_auth se aplica la política por defecto.
type ApplicationRequest struct {
	DomainName   string                        `json:"domain_name"`
	BasicAuth    *repository.BasicAuthConfig   `json:"basic_auth,omitempty"`
	Verification repository.VerificationConfig `json:"verification"`
}

// ─── Responses ───

type RegisterResponse struct {
	UserID               string `json:"user_id"`
	VerificationRequired bool   `json:"verification_required"`
	VerificationMode     string `json:"verification_mode"`
	VerificationToken    string `json:"verification_token,omitempty"`
}

type ResendResponse struct {
	Status            string `json:"status"`
	VerificationToken string `json:"verification_token,omitempty"`
}

type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

// LoginResponse lleva el par de tokens o, con 2FA, el flow token.
type LoginResponse struct {
	*TokenResponse
	TOTPRequired  bool       `json:"totp_required,omitempty"`
	FlowToken     string     `json:"flow_token,omitempty"`
	FlowExpiresAt *time.Time `json:"flow_expires_at,omitempty"`
}

type TOTPEnrollResponse struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauth_url"`
	BackupCodes []string `json:"backup_codes"`
}

type BackupCodesResponse struct {
	Remaining int `json:"remaining"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

func tokenResponse(t *session.Tokens) *TokenResponse {
	exp := int64(time.Until(t.AccessExpiresAt).Seconds())
	if exp < 0 {
		exp = 0
	}
	return &TokenResponse{
		AccessToken:      t.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        exp,
		RefreshToken:     t.RefreshToken,
		RefreshExpiresAt: t.RefreshExpiresAt,
		SessionID:        t.SessionID,
	}
}
