package repository

import (
	"context"
	"fmt"
	"time"
)

// VerificationMode define cómo se verifica el email de un usuario nuevo.
type VerificationMode string

const (
	VerificationNone VerificationMode = "none"
	VerificationLink VerificationMode = "link"
	VerificationCode VerificationMode = "code"
)

// DefaultVerificationTTL es el TTL por defecto del token de verificación (segundos).
const DefaultVerificationTTL = 86400

// BasicAuthConfig es la política de passwords de una Application.
type BasicAuthConfig struct {
	MinPasswordLength int `json:"min_password_length"`
	MaxPasswordLength int `json:"max_password_length"`

	CheckStrength    bool `json:"check_strength"`
	MinStrengthScore int  `json:"min_strength_score"` // 0..4 (zxcvbn)

	// Los mínimos por clase de caracter solo aplican con StrictMode.
	StrictMode   bool `json:"strict_mode"`
	MinUppercase int  `json:"min_uppercase"`
	MinLowercase int  `json:"min_lowercase"`
	MinDigits    int  `json:"min_digits"`
	MinSymbols   int  `json:"min_symbols"`
}

// DefaultBasicAuthConfig sigue NIST SP 800-63B (min 8, max 128).
func DefaultBasicAuthConfig() BasicAuthConfig {
	return BasicAuthConfig{
		MinPasswordLength: 8,
		MaxPasswordLength: 128,
		CheckStrength:     true,
		MinStrengthScore:  2,
	}
}

// Validate chequea min ≤ max y que todos los mínimos sean ≥ 0.
func (c BasicAuthConfig) Validate() error {
	if c.MinPasswordLength < 0 || c.MaxPasswordLength < 0 ||
		c.MinUppercase < 0 || c.MinLowercase < 0 || c.MinDigits < 0 || c.MinSymbols < 0 {
		return fmt.Errorf("%w: negative minimum in basic auth config", ErrInvalidInput)
	}
	if c.MinPasswordLength > c.MaxPasswordLength {
		return fmt.Errorf("%w: min_password_length > max_password_length", ErrInvalidInput)
	}
	if c.MinStrengthScore < 0 || c.MinStrengthScore > 4 {
		return fmt.Errorf("%w: min_strength_score out of range", ErrInvalidInput)
	}
	return nil
}

// VerificationConfig define el flujo de verificación de email.
type VerificationConfig struct {
	RedirectURL     string           `json:"redirect_url"`
	TokenTTLSeconds int              `json:"token_ttl_seconds"`
	Mode            VerificationMode `json:"mode"`
}

// TokenTTL devuelve el TTL efectivo (default 86400s).
func (c VerificationConfig) TokenTTL() time.Duration {
	if c.TokenTTLSeconds <= 0 {
		return DefaultVerificationTTL * time.Second
	}
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

// Validate chequea el modo y el TTL.
func (c VerificationConfig) Validate() error {
	switch c.Mode {
	case VerificationNone, VerificationLink, VerificationCode:
	default:
		return fmt.Errorf("%w: unknown verification mode %q", ErrInvalidInput, c.Mode)
	}
	if c.TokenTTLSeconds < 0 {
		return fmt.Errorf("%w: negative token ttl", ErrInvalidInput)
	}
	return nil
}

// Application es la réplica local del tenant. El dueño es el servicio de
// configuración; acá solo se guarda una copia.
type Application struct {
	ID           string
	DomainName   string
	BasicAuth    BasicAuthConfig
	Verification VerificationConfig
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate valida la réplica completa antes de persistirla.
func (a Application) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: empty application id", ErrInvalidInput)
	}
	if err := a.BasicAuth.Validate(); err != nil {
		return err
	}
	return a.Verification.Validate()
}

// ApplicationRepository persiste las réplicas de Application.
type ApplicationRepository interface {
	// Upsert crea o reemplaza la réplica junto a sus dos sub-configs.
	// CreatedAt se preserva si la fila ya existía.
	Upsert(ctx context.Context, app *Application) error

	// Get retorna ErrNotFound si no existe.
	Get(ctx context.Context, id string) (*Application, error)

	// Delete borra la réplica y todo lo que cuelga de ella (cascade).
	// Retorna ErrNotFound si no existía.
	Delete(ctx context.Context, id string) error

	// List retorna todas las réplicas (warmup del cache).
	List(ctx context.Context) ([]Application, error)
}
