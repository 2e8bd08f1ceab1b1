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

const verificationCodeDigits = 6

type RegisterInput struct {
	ApplicationID string
	Email         string
	Password      string
	Name          string
	Meta          ClientMeta
}

type RegisterResult struct {
	UserID               string
	VerificationRequired bool
	VerificationMode     repository.VerificationMode
	// VerificationToken solo se devuelve en modo code: el código viaja por
	// mail y el confirm necesita los dos. En modo link el token va solo en el link.
	VerificationToken string
}

// Register crea usuario, email y credencial en una tx. Si la Application
// pide verificación emite el EMAIL_VERIFICATION y despacha el mensaje.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	log := logger.For(ctx, "service", "Register", logger.ApplicationID(in.ApplicationID))

	app, err := s.apps.Resolve(ctx, in.ApplicationID)
	if err != nil {
		return nil, err
	}

	email := validation.NormalizeEmail(in.Email)
	if !validation.ValidEmail(email) {
		return nil, apperrors.ErrMalformedEmail
	}

	// El hash es lento: fuera de la tx.
	phc, err := s.credentials.Hash(ctx, app.BasicAuth, in.Password, email, in.Name)
	if err != nil {
		return nil, err
	}

	mode := app.Verification.Mode
	res := &RegisterResult{VerificationMode: mode, VerificationRequired: mode != repository.VerificationNone}
	var msg *messaging.Message

	err = s.store.WithTx(ctx, func(tx repository.Repositories) error {
		u := &repository.User{ApplicationID: app.ID, Name: in.Name, PasswordEnabled: true}
		if err := tx.Users().Create(ctx, u); err != nil {
			return mapStoreErr(err)
		}
		addr := &repository.EmailAddress{
			UserID:        u.ID,
			ApplicationID: app.ID,
			Address:       email,
			Verified:      mode == repository.VerificationNone,
		}
		if err := tx.Emails().Create(ctx, addr); err != nil {
			if repository.IsConflict(err) {
				return apperrors.ErrDuplicateEmail
			}
			return mapStoreErr(err)
		}
		if err := tx.BasicAuths().Create(ctx, &repository.BasicAuth{UserID: u.ID, PasswordHash: phc}); err != nil {
			return mapStoreErr(err)
		}
		res.UserID = u.ID

		if mode == repository.VerificationNone {
			return nil
		}
		value, m, err := s.issueVerification(ctx, tx, app, u.ID, addr, in.Meta)
		if err != nil {
			return err
		}
		if mode == repository.VerificationCode {
			res.VerificationToken = value
		}
		msg = m
		return nil
	})
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindInternal {
			log.Error("register failed", logger.Err(err))
		}
		return nil, err
	}

	log.Info("user registered", logger.UserID(res.UserID), logger.Email(email))
	if msg != nil {
		s.dispatch(ctx, *msg)
	}
	return res, nil
}

// issueVerification emite el token atado a la dirección y arma el mensaje
// (link o código según el modo).
func (s *Service) issueVerification(ctx context.Context, tx repository.Repositories, app *repository.Application, userID string, addr *repository.EmailAddress, meta ClientMeta) (string, *messaging.Message, error) {
	p := token.IssueParams{
		ApplicationID: app.ID,
		UserID:        userID,
		Kind:          repository.TokenEmailVerification,
		TTL:           app.Verification.TokenTTL(),
		Subject:       addr.ID,
		IP:            meta.IP,
		UserAgent:     meta.UserAgent,
	}
	msg := &messaging.Message{
		ApplicationID: app.ID,
		Domain:        app.DomainName,
		To:            addr.Address,
		Template:      messaging.TemplateVerifyEmail,
		TTL:           p.TTL,
	}

	switch app.Verification.Mode {
	case repository.VerificationCode:
		code, err := tokens.NewNumericCode(verificationCodeDigits)
		if err != nil {
			return "", nil, apperrors.Internal(err)
		}
		p.Code = code
		msg.Code = code
	case repository.VerificationLink:
		if app.Verification.RedirectURL == "" {
			return "", nil, apperrors.ErrInvalidConfig.WithDetail("verification redirect_url is empty")
		}
	default:
		return "", nil, apperrors.ErrInvalidConfig.WithDetail("verification mode " + string(app.Verification.Mode))
	}

	issued, err := s.tokens.IssueTx(ctx, tx, p)
	if err != nil {
		return "", nil, err
	}
	if app.Verification.Mode == repository.VerificationLink {
		link, err := messaging.BuildURL(app.Verification.RedirectURL, "token", issued.Value)
		if err != nil {
			return "", nil, apperrors.ErrInvalidConfig.WithCause(err)
		}
		msg.URL = link
	}
	return issued.Value, msg, nil
}

// dispatch no falla el flujo: el usuario puede pedir reenvío.
func (s *Service) dispatch(ctx context.Context, msg messaging.Message) {
	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		logger.From(ctx).Warn("dispatch failed",
			logger.Layer("service"),
			logger.ApplicationID(msg.ApplicationID),
			logger.String("template", string(msg.Template)),
			logger.Err(err))
	}
}

// mapStoreErr traduce errores de repositorio que no tienen un caso propio.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if repository.IsNotFound(err) {
		// FK rota: la Application se borró en medio del flujo.
		return apperrors.ErrApplicationNotFound.WithCause(err)
	}
	return apperrors.Internal(err)
}
