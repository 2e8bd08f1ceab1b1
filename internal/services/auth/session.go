package auth

import (
	"context"

	"github.com/dropDatabas3/authcore/internal/session"
)

// Refresh exige que el tenant siga replicado.
func (s *Service) Refresh(ctx context.Context, applicationID, refreshToken string, meta ClientMeta) (*session.Tokens, error) {
	if _, err := s.apps.Resolve(ctx, applicationID); err != nil {
		return nil, err
	}
	return s.sessions.Refresh(ctx, applicationID, refreshToken, meta)
}

func (s *Service) Logout(ctx context.Context, applicationID, refreshToken string) error {
	if _, err := s.apps.Resolve(ctx, applicationID); err != nil {
		return err
	}
	return s.sessions.Logout(ctx, applicationID, refreshToken)
}

// Authenticate valida un access token (solo firma y exp).
func (s *Service) Authenticate(accessToken string) (*session.Principal, error) {
	return s.sessions.ValidateAccess(accessToken)
}
