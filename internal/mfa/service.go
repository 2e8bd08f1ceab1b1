// Package mfa es el subsistema TOTP: enrolamiento con backup codes, challenge
// (token TOTP_FLOW), verificación de códigos y baja.
package mfa

import (
	"context"
	"strings"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	"github.com/dropDatabas3/authcore/internal/security/secretbox"
	tokens "github.com/dropDatabas3/authcore/internal/security/token"
	"github.com/dropDatabas3/authcore/internal/security/totp"
	"github.com/dropDatabas3/authcore/internal/token"
)

const DefaultBackupCodes = 10

type Config struct {
	// Issuer aparece en la app autenticadora.
	Issuer      string
	Period      uint
	Skew        int
	BackupCodes int
}

func (c Config) withDefaults() Config {
	if c.Issuer == "" {
		c.Issuer = "authcore"
	}
	if c.Period == 0 {
		c.Period = repository.DefaultTOTPInterval
	}
	if c.Skew <= 0 {
		c.Skew = totp.DefaultSkew
	}
	if c.BackupCodes <= 0 {
		c.BackupCodes = DefaultBackupCodes
	}
	return c
}

// Enrollment se muestra una sola vez; después solo quedan hashes y el secreto sellado.
type Enrollment struct {
	Secret      string
	URL         string
	BackupCodes []string
}

type Service struct {
	store  repository.Store
	tokens *token.Engine
	box    *secretbox.Box
	cfg    Config
}

// NewService arma el servicio. box nil guarda el secreto en claro.
func NewService(store repository.Store, tokens *token.Engine, box *secretbox.Box, cfg Config) *Service {
	return &Service{store: store, tokens: tokens, box: box, cfg: cfg.withDefaults()}
}

// ─── Enroll ───

// Enroll falla con AlreadyEnrolled si el usuario ya tiene TOTP: hay que
// darlo de baja antes de generar otro secreto.
func (s *Service) Enroll(ctx context.Context, user *repository.User, accountName string) (*Enrollment, error) {
	log := logger.For(ctx, "mfa", "Enroll", logger.UserID(user.ID))

	key, err := totp.GenerateSecret(s.cfg.Issuer, accountName, s.cfg.Period)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	stored := key.Secret
	if s.box != nil {
		if stored, err = s.box.Seal(key.Secret); err != nil {
			return nil, apperrors.Internal(err)
		}
	}
	codes, err := totp.GenerateBackupCodes(s.cfg.BackupCodes)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	rows := make([]repository.TOTPBackupCode, len(codes))
	for i, c := range codes {
		rows[i] = repository.TOTPBackupCode{CodeHash: tokens.Hash(c)}
	}

	now := s.tokens.Now()
	err = s.store.WithTx(ctx, func(tx repository.Repositories) error {
		if _, err := tx.TOTP().GetByUser(ctx, user.ID); err == nil {
			return apperrors.ErrAlreadyEnrolled
		} else if !repository.IsNotFound(err) {
			return apperrors.Internal(err)
		}

		t := &repository.TOTP{UserID: user.ID, Secret: stored, Interval: int(s.cfg.Period), CreatedAt: now}
		if err := tx.TOTP().Create(ctx, t, rows); err != nil {
			if repository.IsConflict(err) {
				return apperrors.ErrAlreadyEnrolled
			}
			return apperrors.Internal(err)
		}
		if err := tx.Users().SetTOTPEnabled(ctx, user.ID, true, now); err != nil {
			return apperrors.Internal(err)
		}
		return nil
	})
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindInternal {
			log.Error("enroll failed", logger.Err(err))
		}
		return nil, err
	}

	log.Info("totp enrolled", logger.Count(len(codes)))
	return &Enrollment{Secret: key.Secret, URL: key.URL, BackupCodes: codes}, nil
}

// ─── Challenge ───

// Challenge emite el TOTP_FLOW que habilita el segundo paso del login.
func (s *Service) Challenge(ctx context.Context, user *repository.User, ip, userAgent string) (*token.Issued, error) {
	if !user.TOTPEnabled {
		return nil, apperrors.ErrNotEnrolled
	}
	return s.tokens.Issue(ctx, token.IssueParams{
		ApplicationID: user.ApplicationID,
		UserID:        user.ID,
		Kind:          repository.TokenTOTPFlow,
		IP:            ip,
		UserAgent:     userAgent,
	})
}

// ─── Verify ───

// VerifyCode acepta un código TOTP (ventana ±skew, una vez por step) o un
// backup code (una sola vez, para siempre).
func (s *Service) VerifyCode(ctx context.Context, userID, code string) (bool, error) {
	var ok bool
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		var err error
		ok, err = s.VerifyCodeTx(ctx, tx, userID, code)
		return err
	})
	return ok, err
}

// VerifyCodeTx es VerifyCode dentro de la tx del caller: el backup code
// o el step quedan gastados solo si la tx commitea.
func (s *Service) VerifyCodeTx(ctx context.Context, tx repository.Repositories, userID, code string) (bool, error) {
	t, err := tx.TOTP().GetByUser(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return false, apperrors.ErrNotEnrolled
		}
		return false, apperrors.Internal(err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}

	if totp.IsBackupCode(code) {
		used, err := tx.TOTP().UseBackupCode(ctx, t.ID, tokens.Hash(totp.NormalizeBackupCode(code)), s.tokens.Now())
		if err != nil {
			return false, apperrors.Internal(err)
		}
		if used {
			logger.From(ctx).Info("backup code used",
				logger.Layer("mfa"), logger.UserID(userID), logger.Count(t.Remaining()-1))
		}
		return used, nil
	}

	secret, err := s.openSecret(t.Secret)
	if err != nil {
		return false, apperrors.Internal(err)
	}
	period := uint(t.Interval)
	if period == 0 {
		period = s.cfg.Period
	}
	ok, step := totp.Verify(secret, code, s.tokens.Now(), period, s.cfg.Skew)
	if !ok {
		return false, nil
	}
	// Mismo step dos veces = replay.
	advanced, err := tx.TOTP().AdvanceStep(ctx, t.ID, step)
	if err != nil {
		return false, apperrors.Internal(err)
	}
	return advanced, nil
}

// Remaining devuelve cuántos backup codes quedan sin usar.
func (s *Service) Remaining(ctx context.Context, userID string) (int, error) {
	t, err := s.store.TOTP().GetByUser(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return 0, apperrors.ErrNotEnrolled
		}
		return 0, apperrors.Internal(err)
	}
	return t.Remaining(), nil
}

// ─── Disable ───

// Disable destruye secreto y backup codes. Los logins siguientes no piden segundo factor.
func (s *Service) Disable(ctx context.Context, userID string) error {
	return s.store.WithTx(ctx, func(tx repository.Repositories) error {
		return s.DisableTx(ctx, tx, userID)
	})
}

// DisableTx es Disable dentro de la tx del caller.
func (s *Service) DisableTx(ctx context.Context, tx repository.Repositories, userID string) error {
	if _, err := tx.TOTP().GetByUser(ctx, userID); err != nil {
		if repository.IsNotFound(err) {
			return apperrors.ErrNotEnrolled
		}
		return apperrors.Internal(err)
	}
	if err := tx.TOTP().DeleteByUser(ctx, userID); err != nil {
		return apperrors.Internal(err)
	}
	if err := tx.Users().SetTOTPEnabled(ctx, userID, false, s.tokens.Now()); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

func (s *Service) openSecret(stored string) (string, error) {
	if s.box == nil {
		return stored, nil
	}
	return s.box.Open(stored)
}
