package auth

import (
	"context"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/messaging"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	tokens "github.com/dropDatabas3/authcore/internal/security/token"
	"github.com/dropDatabas3/authcore/internal/token"
	"github.com/dropDatabas3/authcore/internal/validation"
)

type ConfirmEmailInput struct {
	ApplicationID string
	Token         string
	// Code es obligatorio si el token se emitió en modo code.
	Code string
	Meta ClientMeta
}

// ConfirmEmail consume el token y marca la dirección verificada en la misma
// tx: o pasan las dos cosas o ninguna. Un código incorrecto no gasta el token.
func (s *Service) ConfirmEmail(ctx context.Context, in ConfirmEmailInput) error {
	log := logger.For(ctx, "service", "ConfirmEmail", logger.ApplicationID(in.ApplicationID))

	if _, err := s.apps.Resolve(ctx, in.ApplicationID); err != nil {
		return err
	}

	var userID string
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		tok, err := s.tokens.ValidateTx(ctx, tx, in.Token, repository.TokenEmailVerification, in.ApplicationID)
		if err != nil {
			return err
		}
		if tok.CodeHash != "" && !token.MatchCode(tok, in.Code) {
			return apperrors.ErrInvalidCode
		}

		addr, err := tx.Emails().GetByID(ctx, tok.Subject)
		if err != nil {
			if repository.IsNotFound(err) {
				return apperrors.ErrTokenNotFound
			}
			return apperrors.Internal(err)
		}
		if addr.UserID != tok.UserID {
			return apperrors.ErrTokenNotFound
		}

		if _, err := s.tokens.ConsumeTx(ctx, tx, in.Token, repository.TokenEmailVerification, in.ApplicationID); err != nil {
			return err
		}
		if addr.Verified {
			return apperrors.ErrEmailAlreadyVerified
		}
		if err := tx.Emails().MarkVerified(ctx, addr.ID, s.tokens.Now(), in.Meta.IP); err != nil {
			return apperrors.Internal(err)
		}
		userID = tok.UserID
		return nil
	})
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindInternal {
			log.Error("confirm email failed", logger.Err(err))
		}
		return err
	}

	log.Info("email verified", logger.UserID(userID))
	return nil
}

type ResendVerificationInput struct {
	ApplicationID string
	Email         string
	Meta          ClientMeta
}

// ResendVerification revoca los EMAIL_VERIFICATION vivos y emite uno nuevo.
// Para direcciones desconocidas o ya verificadas responde igual que para
// una válida; en modo code devuelve un token señuelo que nunca valida.
func (s *Service) ResendVerification(ctx context.Context, in ResendVerificationInput) (string, error) {
	log := logger.For(ctx, "service", "ResendVerification", logger.ApplicationID(in.ApplicationID))

	app, err := s.apps.Resolve(ctx, in.ApplicationID)
	if err != nil {
		return "", err
	}
	mode := app.Verification.Mode
	if mode == repository.VerificationNone {
		return "", apperrors.ErrBadRequest.WithDetail("email verification is disabled for this application")
	}

	email := validation.NormalizeEmail(in.Email)
	if !validation.ValidEmail(email) {
		return "", apperrors.ErrMalformedEmail
	}

	decoy := func() (string, error) {
		if mode != repository.VerificationCode {
			return "", nil
		}
		v, err := tokens.NewValue()
		if err != nil {
			return "", apperrors.Internal(err)
		}
		return v, nil
	}

	addr, err := s.store.Emails().GetByAddress(ctx, app.ID, email)
	if err != nil {
		if repository.IsNotFound(err) {
			return decoy()
		}
		return "", apperrors.Internal(err)
	}
	if addr.Verified {
		return decoy()
	}

	var (
		value string
		msg   *messaging.Message
	)
	err = s.store.WithTx(ctx, func(tx repository.Repositories) error {
		if _, err := s.tokens.RevokeAllTx(ctx, tx, addr.UserID, repository.TokenEmailVerification); err != nil {
			return err
		}
		v, m, err := s.issueVerification(ctx, tx, app, addr.UserID, addr, in.Meta)
		if err != nil {
			return err
		}
		value, msg = v, m
		return nil
	})
	if err != nil {
		log.Error("resend failed", logger.Err(err))
		return "", err
	}

	s.dispatch(ctx, *msg)
	if mode == repository.VerificationCode {
		return value, nil
	}
	return "", nil
}
