package repository

import (
	"context"
	"time"
)

// DefaultTOTPInterval es el período TOTP por defecto (segundos).
const DefaultTOTPInterval = 30

// TOTP es el segundo factor de un usuario. El secreto es inmutable.
type TOTP struct {
	ID           string
	UserID       string
	Secret       string // sellado con secretbox si hay master key
	Interval     int
	LastUsedStep int64
	CreatedAt    time.Time
	BackupCodes  []TOTPBackupCode
}

// TOTPBackupCode se consume una sola vez y nunca se regenera in place.
type TOTPBackupCode struct {
	ID        string
	TOTPID    string
	CodeHash  string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Remaining cuenta los backup codes sin usar.
func (t *TOTP) Remaining() int {
	n := 0
	for _, c := range t.BackupCodes {
		if !c.Used {
			n++
		}
	}
	return n
}

// TOTPRepository define operaciones sobre TOTP y backup codes.
type TOTPRepository interface {
	// Create retorna ErrConflict si el usuario ya tiene TOTP.
	Create(ctx context.Context, t *TOTP, codes []TOTPBackupCode) error

	// GetByUser retorna el TOTP con sus backup codes (ordenados por creación).
	GetByUser(ctx context.Context, userID string) (*TOTP, error)

	// AdvanceStep guarda el último step aceptado solo si es mayor al actual.
	// Retorna false si el step ya fue usado (replay).
	AdvanceStep(ctx context.Context, totpID string, step int64) (bool, error)

	// UseBackupCode marca el code como usado solo si no lo estaba.
	UseBackupCode(ctx context.Context, totpID, codeHash string, at time.Time) (bool, error)

	// DeleteByUser destruye secreto y backup codes.
	DeleteByUser(ctx context.Context, userID string) error
}
