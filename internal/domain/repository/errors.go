package repository

import "errors"

// Errores centinela que todo adapter de Store debe devolver (envueltos o no).
// Los servicios los traducen a apperrors; nunca llegan al cliente tal cual.
var (
	// ErrNotFound: usuario, token, TOTP o aplicación inexistente.
	ErrNotFound = errors.New("not found")

	// ErrConflict: violación de unicidad. (application_id, email) en users,
	// token_hash en user_tokens, user_id en user_totp.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput: config de aplicación inconsistente (ver Validate).
	ErrInvalidInput = errors.New("invalid input")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
