// Package apperrors define la taxonomía de errores del core de autenticación.
//
// Cada error tiene un Kind (para que los callers ramifiquen sin comparar strings)
// y un Code estable. La causa original (Err) nunca se expone al cliente.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind clasifica un error según cómo debe reportarse al caller.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindExpired
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Error es el error estándar del core.
type Error struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Err     error  `json:"-"` // causa original, solo para logs
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is compara por Code, así las copias creadas con WithDetail/WithCause siguen
// matcheando contra las variables predefinidas.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail devuelve una COPIA con detalle adicional.
func (e *Error) WithDetail(detail string) *Error {
	n := *e
	n.Detail = detail
	return &n
}

// WithCause devuelve una COPIA con la causa original.
func (e *Error) WithCause(err error) *Error {
	n := *e
	n.Err = err
	return &n
}

// KindOf devuelve el Kind del error. Errores desconocidos son KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// From convierte cualquier error a *Error; los desconocidos pasan a ErrInternal
// conservando la causa.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithCause(err)
}

// Internal envuelve una falla de storage/crypto como error opaco.
func Internal(err error) *Error {
	return ErrInternal.WithCause(err)
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// =================================================================================
// VALIDATION
// =================================================================================

var (
	ErrBadRequest        = newErr(KindValidation, "BAD_REQUEST", "request is malformed")
	ErrWeakPassword      = newErr(KindValidation, "WEAK_PASSWORD", "password does not satisfy the application policy")
	ErrMalformedEmail    = newErr(KindValidation, "MALFORMED_EMAIL", "email address is malformed")
	ErrTokenKindMismatch = newErr(KindValidation, "TOKEN_KIND_MISMATCH", "token cannot be used for this operation")
	ErrInvalidConfig     = newErr(KindValidation, "INVALID_CONFIG", "application configuration is invalid")
)

// =================================================================================
// CONFLICT
// =================================================================================

var (
	ErrDuplicateEmail       = newErr(KindConflict, "DUPLICATE_EMAIL", "email address already registered")
	ErrAlreadyEnrolled      = newErr(KindConflict, "TOTP_ALREADY_ENROLLED", "two-factor authentication already enabled")
	ErrTokenAlreadyConsumed = newErr(KindConflict, "TOKEN_ALREADY_CONSUMED", "token was already used")
	ErrEmailAlreadyVerified = newErr(KindConflict, "EMAIL_ALREADY_VERIFIED", "email address already verified")
)

// =================================================================================
// NOT FOUND (genéricos para no filtrar existencia de cuentas/tenants)
// =================================================================================

var (
	ErrTokenNotFound       = newErr(KindNotFound, "TOKEN_NOT_FOUND", "token not found")
	ErrApplicationNotFound = newErr(KindNotFound, "APPLICATION_NOT_FOUND", "application not found")
	ErrUserNotFound        = newErr(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrNotEnrolled         = newErr(KindNotFound, "TOTP_NOT_ENROLLED", "two-factor authentication not enabled")
)

// =================================================================================
// EXPIRED
// =================================================================================

var (
	ErrTokenExpired = newErr(KindExpired, "TOKEN_EXPIRED", "token expired, request a new one")
)

// =================================================================================
// UNAUTHORIZED
// =================================================================================

var (
	ErrInvalidCredentials = newErr(KindUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
	ErrInvalidTOTPCode    = newErr(KindUnauthorized, "INVALID_TOTP_CODE", "invalid two-factor code")
	ErrEmailNotVerified   = newErr(KindUnauthorized, "EMAIL_NOT_VERIFIED", "email address not verified")
	ErrInvalidAccessToken = newErr(KindUnauthorized, "INVALID_ACCESS_TOKEN", "access token invalid or expired")
	ErrInvalidCode        = newErr(KindUnauthorized, "INVALID_VERIFICATION_CODE", "verification code is invalid")
)

// =================================================================================
// INTERNAL
// =================================================================================

var (
	ErrInternal = newErr(KindInternal, "INTERNAL", "internal error")
)
