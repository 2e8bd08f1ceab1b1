package repository

import (
	"context"
	"time"
)

// User es un usuario de una Application.
type User struct {
	ID              string
	ApplicationID   string
	Name            string
	PasswordEnabled bool
	TOTPEnabled     bool
	LastLoginAt     *time.Time
	LastLoginIP     *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EmailAddress es único por (address, application_id).
type EmailAddress struct {
	ID            string
	UserID        string
	ApplicationID string
	Address       string
	Verified      bool
	VerifiedAt    *time.Time
	VerifiedIP    *string
	CreatedAt     time.Time
}

// BasicAuth guarda solo el hash del password (nunca el plaintext ni el email).
type BasicAuth struct {
	ID           string
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserMetadata es una entrada key/value de extensión.
type UserMetadata struct {
	UserID string
	Key    string
	Value  string
}

// UserRepository define operaciones sobre usuarios.
type UserRepository interface {
	Create(ctx context.Context, u *User) error

	// GetByID busca dentro de la Application. Retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, applicationID, userID string) (*User, error)

	UpdateLastLogin(ctx context.Context, userID string, at time.Time, ip string) error

	SetTOTPEnabled(ctx context.Context, userID string, enabled bool, at time.Time) error
}

// EmailRepository define operaciones sobre direcciones de email.
type EmailRepository interface {
	// Create retorna ErrConflict si (address, application_id) ya existe.
	Create(ctx context.Context, e *EmailAddress) error

	GetByID(ctx context.Context, id string) (*EmailAddress, error)

	GetByAddress(ctx context.Context, applicationID, address string) (*EmailAddress, error)

	GetByUser(ctx context.Context, userID string) (*EmailAddress, error)

	MarkVerified(ctx context.Context, id string, at time.Time, ip string) error
}

// BasicAuthRepository define operaciones sobre credenciales de password.
type BasicAuthRepository interface {
	Create(ctx context.Context, b *BasicAuth) error

	GetByUser(ctx context.Context, userID string) (*BasicAuth, error)

	UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error
}

// MetadataRepository define operaciones sobre metadata de usuario.
type MetadataRepository interface {
	// Set hace upsert de la key.
	Set(ctx context.Context, userID, key, value string) error

	Get(ctx context.Context, userID, key string) (string, error)

	List(ctx context.Context, userID string) ([]UserMetadata, error)

	Delete(ctx context.Context, userID, key string) error
}
