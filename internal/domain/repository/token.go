package repository

import (
	"context"
	"time"
)

// TokenKind es el propósito de un token.
type TokenKind string

const (
	TokenEmailVerification TokenKind = "EMAIL_VERIFICATION"
	TokenPasswordReset     TokenKind = "PASSWORD_RESET"
	TokenRefresh           TokenKind = "REFRESH"
	TokenTOTPFlow          TokenKind = "TOTP_FLOW"

	// TokenAccess no se persiste: es un JWT firmado emitido por la sesión.
	TokenAccess TokenKind = "ACCESS"
)

// Persisted indica si el kind vive en la tabla user_token.
func (k TokenKind) Persisted() bool {
	switch k {
	case TokenEmailVerification, TokenPasswordReset, TokenRefresh, TokenTOTPFlow:
		return true
	}
	return false
}

// UserToken es un token opaco de un solo propósito. Solo se guarda el hash
// del valor; el valor crudo se devuelve una única vez al emitirlo.
type UserToken struct {
	ID            string
	ApplicationID string
	UserID        string
	Kind          TokenKind
	TokenHash     string

	// Subject es la fila concreta a la que está atado el token
	// (EmailAddress para verificación, BasicAuth para reset).
	Subject string

	// CodeHash existe solo en verificación por código.
	CodeHash string

	IPAddress string
	UserAgent string

	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	RevokedAt  *time.Time
}

// Consumed indica si el token ya fue gastado o revocado.
func (t *UserToken) Consumed() bool {
	return t.ConsumedAt != nil
}

// UserTokenRepository define operaciones sobre user_token.
type UserTokenRepository interface {
	// Create retorna ErrConflict si el hash ya existe.
	Create(ctx context.Context, t *UserToken) error

	// GetByHash retorna ErrNotFound si no existe.
	GetByHash(ctx context.Context, tokenHash string) (*UserToken, error)

	// MarkConsumed setea consumed_at solo si todavía es NULL.
	// Retorna false si otro request lo consumió antes.
	MarkConsumed(ctx context.Context, id string, at time.Time) (bool, error)

	// RevokeAllByUser marca consumidos (y revocados) todos los tokens vivos
	// del usuario de los kinds dados. Retorna cuántos cambió.
	RevokeAllByUser(ctx context.Context, userID string, kinds []TokenKind, at time.Time) (int, error)

	// ListByUser retorna todos los tokens del usuario, incluidos los terminales.
	ListByUser(ctx context.Context, userID string) ([]UserToken, error)
}
