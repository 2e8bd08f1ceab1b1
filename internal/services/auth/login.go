package auth

import (
	"context"
	"time"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	"github.com/dropDatabas3/authcore/internal/session"
	"github.com/dropDatabas3/authcore/internal/validation"
)

type LoginInput struct {
	ApplicationID string
	Email         string
	Password      string
	Meta          ClientMeta
}

// LoginResult trae Tokens, o FlowToken si el usuario tiene TOTP.
type LoginResult struct {
	Tokens *session.Tokens

	TOTPRequired  bool
	FlowToken     string
	FlowExpiresAt time.Time
}

// Login verifica email+password. Email inexistente y password incorrecto
// dan el mismo error y tardan lo mismo.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	log := logger.For(ctx, "service", "Login", logger.ApplicationID(in.ApplicationID))

	app, err := s.apps.Resolve(ctx, in.ApplicationID)
	if err != nil {
		return nil, err
	}

	email := validation.NormalizeEmail(in.Email)
	user, addr, phc, err := s.lookupCredentials(ctx, app.ID, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.credentials.VerifyDummy(ctx, in.Password)
		s.metrics.Login("invalid_credentials")
		return nil, apperrors.ErrInvalidCredentials
	}

	ok, err := s.credentials.Verify(ctx, in.Password, phc)
	if err != nil {
		log.Error("password verify failed", logger.Err(err))
		return nil, err
	}
	if !ok {
		s.metrics.Login("invalid_credentials")
		log.Debug("wrong password", logger.UserID(user.ID))
		return nil, apperrors.ErrInvalidCredentials
	}

	if app.Verification.Mode != repository.VerificationNone && !addr.Verified {
		s.metrics.Login("email_not_verified")
		return nil, apperrors.ErrEmailNotVerified
	}

	if user.TOTPEnabled {
		flow, err := s.mfa.Challenge(ctx, user, in.Meta.IP, in.Meta.UserAgent)
		if err != nil {
			return nil, err
		}
		s.metrics.Login("totp_required")
		log.Info("second factor required", logger.UserID(user.ID))
		return &LoginResult{TOTPRequired: true, FlowToken: flow.Value, FlowExpiresAt: flow.Token.ExpiresAt}, nil
	}

	toks, err := s.sessions.Login(ctx, user, in.Meta)
	if err != nil {
		log.Error("session issue failed", logger.Err(err))
		return nil, err
	}
	s.metrics.Login("ok")
	log.Info("login ok", logger.UserID(user.ID))
	return &LoginResult{Tokens: toks}, nil
}

// lookupCredentials devuelve user nil (sin error) si no hay credencial de password.
func (s *Service) lookupCredentials(ctx context.Context, applicationID, email string) (*repository.User, *repository.EmailAddress, string, error) {
	addr, err := s.store.Emails().GetByAddress(ctx, applicationID, email)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, "", nil
		}
		return nil, nil, "", apperrors.Internal(err)
	}
	user, err := s.store.Users().GetByID(ctx, applicationID, addr.UserID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, "", nil
		}
		return nil, nil, "", apperrors.Internal(err)
	}
	if !user.PasswordEnabled {
		return nil, nil, "", nil
	}
	ba, err := s.store.BasicAuths().GetByUser(ctx, user.ID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, "", nil
		}
		return nil, nil, "", apperrors.Internal(err)
	}
	return user, addr, ba.PasswordHash, nil
}

type ConfirmTOTPInput struct {
	ApplicationID string
	FlowToken     string
	Code          string
	Meta          ClientMeta
}

// ConfirmTOTP cierra el login de dos pasos. Con código incorrecto no se
// toca nada y el TOTP_FLOW sigue sirviendo hasta que expire.
func (s *Service) ConfirmTOTP(ctx context.Context, in ConfirmTOTPInput) (*session.Tokens, error) {
	log := logger.For(ctx, "service", "ConfirmTOTP", logger.ApplicationID(in.ApplicationID))

	if _, err := s.apps.Resolve(ctx, in.ApplicationID); err != nil {
		return nil, err
	}

	var out *session.Tokens
	err := s.store.WithTx(ctx, func(tx repository.Repositories) error {
		flow, err := s.tokens.ValidateTx(ctx, tx, in.FlowToken, repository.TokenTOTPFlow, in.ApplicationID)
		if err != nil {
			return err
		}
		// Si el flow se emitió para un user agent, tiene que ser el mismo
		// (omitirlo no alcanza para saltear el chequeo).
		if flow.UserAgent != "" && flow.UserAgent != in.Meta.UserAgent {
			return apperrors.ErrTokenNotFound
		}

		user, err := tx.Users().GetByID(ctx, in.ApplicationID, flow.UserID)
		if err != nil {
			return mapUserErr(err)
		}
		ok, err := s.mfa.VerifyCodeTx(ctx, tx, user.ID, in.Code)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.ErrInvalidTOTPCode
		}

		if _, err := s.tokens.ConsumeTx(ctx, tx, in.FlowToken, repository.TokenTOTPFlow, in.ApplicationID); err != nil {
			return err
		}
		out, err = s.sessions.LoginTx(ctx, tx, user, in.Meta)
		return err
	})
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindInternal:
			log.Error("totp confirm failed", logger.Err(err))
		case apperrors.KindUnauthorized:
			s.metrics.Login("invalid_totp")
		}
		return nil, err
	}

	s.metrics.Login("ok")
	log.Info("login ok (totp)", logger.SessionID(out.SessionID))
	return out, nil
}

func mapUserErr(err error) error {
	if repository.IsNotFound(err) {
		return apperrors.ErrUserNotFound
	}
	return apperrors.Internal(err)
}
