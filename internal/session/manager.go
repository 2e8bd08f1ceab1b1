// Package session es el Session Manager. Una sesión es un token REFRESH
// persistido más los access tokens (JWT, sin estado) que puede mintear.
// El único elemento revocable es el REFRESH.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/jwt"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	"github.com/dropDatabas3/authcore/internal/token"
)

// Config de la política de sesiones.
type Config struct {
	// RotateOnRefresh consume el REFRESH usado y entrega uno nuevo.
	RotateOnRefresh bool
}

// ClientMeta es lo que se registra del cliente al emitir.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// Tokens es el par que se entrega al cliente.
type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}

// Principal es el resultado de validar un access token.
type Principal struct {
	ApplicationID string
	UserID        string
	SessionID     string
	ExpiresAt     time.Time
}

type Manager struct {
	store  repository.Store
	tokens *token.Engine
	issuer *jwt.Issuer
	cfg    Config
}

func NewManager(store repository.Store, tokens *token.Engine, issuer *jwt.Issuer, cfg Config) *Manager {
	return &Manager{store: store, tokens: tokens, issuer: issuer, cfg: cfg}
}

// ─── Login ───

// Login abre una sesión para un usuario ya autenticado (el chequeo de
// credenciales es del orquestador). Actualiza last_login en la misma tx.
func (m *Manager) Login(ctx context.Context, user *repository.User, meta ClientMeta) (*Tokens, error) {
	var out *Tokens
	err := m.store.WithTx(ctx, func(tx repository.Repositories) error {
		t, err := m.LoginTx(ctx, tx, user, meta)
		out = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoginTx es Login dentro de la tx del caller (p.ej. junto al consumo del TOTP_FLOW).
func (m *Manager) LoginTx(ctx context.Context, tx repository.Repositories, user *repository.User, meta ClientMeta) (*Tokens, error) {
	rt, err := m.tokens.IssueTx(ctx, tx, token.IssueParams{
		ApplicationID: user.ApplicationID,
		UserID:        user.ID,
		Kind:          repository.TokenRefresh,
		IP:            meta.IP,
		UserAgent:     meta.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Users().UpdateLastLogin(ctx, user.ID, m.tokens.Now(), meta.IP); err != nil {
		return nil, apperrors.Internal(err)
	}
	return m.pair(rt.Value, &rt.Token)
}

// ─── Refresh ───

// Refresh valida el REFRESH y emite un access nuevo. Sin rotación el REFRESH
// sigue siendo reutilizable hasta logout o expiración.
func (m *Manager) Refresh(ctx context.Context, applicationID, refreshValue string, meta ClientMeta) (*Tokens, error) {
	log := logger.For(ctx, "session", "Refresh")

	if !m.cfg.RotateOnRefresh {
		rt, err := m.tokens.Validate(ctx, refreshValue, repository.TokenRefresh, applicationID)
		if err != nil {
			return nil, err
		}
		return m.pair(refreshValue, rt)
	}

	var out *Tokens
	err := m.store.WithTx(ctx, func(tx repository.Repositories) error {
		old, err := m.tokens.ConsumeTx(ctx, tx, refreshValue, repository.TokenRefresh, applicationID)
		if err != nil {
			return err
		}
		next, err := m.tokens.IssueTx(ctx, tx, token.IssueParams{
			ApplicationID: old.ApplicationID,
			UserID:        old.UserID,
			Kind:          repository.TokenRefresh,
			IP:            meta.IP,
			UserAgent:     meta.UserAgent,
		})
		if err != nil {
			return err
		}
		out, err = m.pair(next.Value, &next.Token)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Debug("refresh rotated", logger.SessionID(out.SessionID))
	return out, nil
}

// ─── Logout ───

// Logout consume el REFRESH. Los access ya emitidos viven hasta su exp.
func (m *Manager) Logout(ctx context.Context, applicationID, refreshValue string) error {
	_, err := m.tokens.Consume(ctx, refreshValue, repository.TokenRefresh, applicationID)
	return err
}

// LogoutAll revoca todas las sesiones del usuario.
func (m *Manager) LogoutAll(ctx context.Context, userID string) (int, error) {
	return m.tokens.RevokeAll(ctx, userID, repository.TokenRefresh)
}

// ─── Access ───

// ValidateAccess es solo firma + exp: no lee storage.
func (m *Manager) ValidateAccess(accessToken string) (*Principal, error) {
	c, err := m.issuer.Verify(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, apperrors.ErrInvalidAccessToken.WithDetail("expired")
		}
		return nil, apperrors.ErrInvalidAccessToken
	}
	p := &Principal{
		ApplicationID: c.ApplicationID,
		UserID:        c.Subject,
		SessionID:     c.SessionID,
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p, nil
}

func (m *Manager) pair(refreshValue string, rt *repository.UserToken) (*Tokens, error) {
	access, exp, err := m.issuer.IssueAccess(rt.ApplicationID, rt.UserID, rt.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &Tokens{
		AccessToken:      access,
		AccessExpiresAt:  exp,
		RefreshToken:     refreshValue,
		RefreshExpiresAt: rt.ExpiresAt,
		SessionID:        rt.ID,
	}, nil
}
