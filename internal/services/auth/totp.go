package auth

import (
	"context"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/mfa"
	"github.com/dropDatabas3/authcore/internal/session"
)

// EnrollTOTP da de alta el segundo factor del usuario autenticado.
func (s *Service) EnrollTOTP(ctx context.Context, p *session.Principal) (*mfa.Enrollment, error) {
	user, err := s.principalUser(ctx, p)
	if err != nil {
		return nil, err
	}
	account := user.ID
	if addr, err := s.store.Emails().GetByUser(ctx, user.ID); err == nil {
		account = addr.Address
	}
	return s.mfa.Enroll(ctx, user, account)
}

// DisableTOTP pide un código vigente (o un backup code) antes de destruir el
// secreto. Código y baja van en la misma tx: si la baja falla, el código no
// queda gastado.
func (s *Service) DisableTOTP(ctx context.Context, p *session.Principal, code string) error {
	user, err := s.principalUser(ctx, p)
	if err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx repository.Repositories) error {
		ok, err := s.mfa.VerifyCodeTx(ctx, tx, user.ID, code)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.ErrInvalidTOTPCode
		}
		return s.mfa.DisableTx(ctx, tx, user.ID)
	})
}

// BackupCodesRemaining cuenta los backup codes sin usar.
func (s *Service) BackupCodesRemaining(ctx context.Context, p *session.Principal) (int, error) {
	user, err := s.principalUser(ctx, p)
	if err != nil {
		return 0, err
	}
	return s.mfa.Remaining(ctx, user.ID)
}

func (s *Service) principalUser(ctx context.Context, p *session.Principal) (*repository.User, error) {
	if p == nil {
		return nil, apperrors.ErrInvalidAccessToken
	}
	if _, err := s.apps.Resolve(ctx, p.ApplicationID); err != nil {
		return nil, err
	}
	user, err := s.store.Users().GetByID(ctx, p.ApplicationID, p.UserID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	return user, nil
}
