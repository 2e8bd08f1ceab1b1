package auth

import (
	"context"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/messaging"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	"github.com/dropDatabas3/authcore/internal/token"
	"github.com/dropDatabas3/authcore/internal/validation"
)

type PasswordResetRequestInput struct {
	ApplicationID string
	Email         string
	Meta          ClientMeta
}

// RequestPasswordReset emite un PASSWORD_RESET atado a la BasicAuth y manda
// el link. Para emails desconocidos no hace nada y no lo dice.
func (s *Service) RequestPasswordReset(ctx context.Context, in PasswordResetRequestInput) error {
	log := logger.For(ctx, "service", "RequestPasswordReset", logger.ApplicationID(in.ApplicationID))

	app, err := s.apps.Resolve(ctx, in.ApplicationID)
	if err != nil {
		return err
	}
	if app.Verification.RedirectURL == "" {
		return apperrors.ErrInvalidConfig.WithDetail("redirect_url is empty")
	}

	email := validation.NormalizeEmail(in.Email)
	if !validation.ValidEmail(email) {
		return apperrors.ErrMalformedEmail
	}

	addr, err := s.store.Emails().GetByAddress(ctx, app.ID, email)
	if err != nil {
		if repository.IsNotFound(err) {
			log.Debug("reset requested for unknown email")
			return nil
		}
		return apperrors.Internal(err)
	}
	ba, err := s.store.BasicAuths().GetByUser(ctx, addr.UserID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return apperrors.Internal(err)
	}

	issued, err := s.tokens.Issue(ctx, token.IssueParams{
		ApplicationID: app.ID,
		UserID:        addr.UserID,
		Kind:          repository.TokenPasswordReset,
		Subject:       ba.ID,
		IP:            in.Meta.IP,
		UserAgent:     in.Meta.UserAgent,
	})
	if err != nil {
		log.Error("reset token issue failed", logger.Err(err))
		return err
	}

	link, err := messaging.BuildURL(app.Verification.RedirectURL, "reset_token", issued.Value)
	if err != nil {
		return apperrors.ErrInvalidConfig.WithCause(err)
	}
	s.dispatch(ctx, messaging.Message{
		ApplicationID: app.ID,
		Domain:        app.DomainName,
		To:            addr.Address,
		Template:      messaging.TemplateResetPassword,
		URL:           link,
		TTL:           issued.Token.ExpiresAt.Sub(issued.Token.CreatedAt),
	})
	log.Info("password reset requested", logger.UserID(addr.UserID))
	return nil
}

type PasswordResetConfirmInput struct {
	ApplicationID string
	Token         string
	NewPassword   string
	Meta          ClientMeta
}

// ConfirmPasswordReset reemplaza el hash y revoca todos los REFRESH y
// PASSWORD_RESET del usuario, en una sola tx con el consumo del token.
func (s *Service) ConfirmPasswordReset(ctx context.Context, in PasswordResetConfirmInput) error {
	log := logger.For(ctx, "service", "ConfirmPasswordReset", logger.ApplicationID(in.ApplicationID))

	app, err := s.apps.Resolve(ctx, in.ApplicationID)
	if err != nil {
		return err
	}

	// Validar sin gastar: un password débil no debe quemar el token.
	pre, err := s.tokens.Validate(ctx, in.Token, repository.TokenPasswordReset, app.ID)
	if err != nil {
		return err
	}
	var inputs []string
	if addr, err := s.store.Emails().GetByUser(ctx, pre.UserID); err == nil {
		inputs = append(inputs, addr.Address)
	}
	phc, err := s.credentials.Hash(ctx, app.BasicAuth, in.NewPassword, inputs...)
	if err != nil {
		return err
	}

	var revoked int
	err = s.store.WithTx(ctx, func(tx repository.Repositories) error {
		tok, err := s.tokens.ConsumeTx(ctx, tx, in.Token, repository.TokenPasswordReset, app.ID)
		if err != nil {
			return err
		}
		ba, err := tx.BasicAuths().GetByUser(ctx, tok.UserID)
		if err != nil {
			if repository.IsNotFound(err) {
				return apperrors.ErrTokenNotFound
			}
			return apperrors.Internal(err)
		}
		if tok.Subject != "" && tok.Subject != ba.ID {
			return apperrors.ErrTokenNotFound
		}
		if err := tx.BasicAuths().UpdatePasswordHash(ctx, tok.UserID, phc, s.tokens.Now()); err != nil {
			return apperrors.Internal(err)
		}
		revoked, err = s.tokens.RevokeAllTx(ctx, tx, tok.UserID, repository.TokenRefresh, repository.TokenPasswordReset)
		return err
	})
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindInternal {
			log.Error("password reset failed", logger.Err(err))
		}
		return err
	}

	log.Info("password replaced", logger.UserID(pre.UserID), logger.Count(revoked))
	return nil
}
