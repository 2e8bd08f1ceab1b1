// Package token es el Token Engine: emite, valida, consume y revoca tokens
// opacos de un solo propósito.
//
// Ciclo de vida: Issued -> {Consumed | Expired | Revoked}. Los estados
// terminales no vuelven atrás y las filas nunca se borran acá.
package token

import (
	"context"
	"time"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/metrics"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	tokens "github.com/dropDatabas3/authcore/internal/security/token"
)

// TTLs por kind. EMAIL_VERIFICATION no tiene default acá: viene de la
// VerificationConfig de la Application.
type TTLs struct {
	PasswordReset time.Duration
	Refresh       time.Duration
	TOTPFlow      time.Duration
}

// DefaultTTLs son los usados si la config no dice otra cosa.
var DefaultTTLs = TTLs{
	PasswordReset: time.Hour,
	Refresh:       720 * time.Hour,
	TOTPFlow:      5 * time.Minute,
}

// IssueParams describe el token a emitir.
type IssueParams struct {
	ApplicationID string
	UserID        string
	Kind          repository.TokenKind
	// TTL 0 usa el default del kind.
	TTL time.Duration
	// Subject ata el token a la fila sobre la que actúa (email, basic auth).
	Subject string
	// Code se guarda hasheado; el confirm debe presentarlo junto al token.
	Code      string
	IP        string
	UserAgent string
}

// Issued es lo que vuelve de Issue: el valor crudo se entrega una sola vez.
type Issued struct {
	Value string
	Token repository.UserToken
}

const maxIssueAttempts = 3

type Engine struct {
	store   repository.Store
	ttls    TTLs
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewEngine(store repository.Store, ttls TTLs, m *metrics.Metrics) *Engine {
	if ttls.PasswordReset <= 0 {
		ttls.PasswordReset = DefaultTTLs.PasswordReset
	}
	if ttls.Refresh <= 0 {
		ttls.Refresh = DefaultTTLs.Refresh
	}
	if ttls.TOTPFlow <= 0 {
		ttls.TOTPFlow = DefaultTTLs.TOTPFlow
	}
	return &Engine{store: store, ttls: ttls, metrics: m, now: time.Now}
}

// SetClock reemplaza el reloj (tests).
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Now es el reloj del engine; los orquestadores lo usan para timestamps.
func (e *Engine) Now() time.Time { return e.now().UTC() }

func (e *Engine) defaultTTL(kind repository.TokenKind) time.Duration {
	switch kind {
	case repository.TokenPasswordReset:
		return e.ttls.PasswordReset
	case repository.TokenRefresh:
		return e.ttls.Refresh
	case repository.TokenTOTPFlow:
		return e.ttls.TOTPFlow
	case repository.TokenEmailVerification:
		return repository.DefaultVerificationTTL * time.Second
	}
	return 0
}

// ─── Issue ───

func (e *Engine) Issue(ctx context.Context, p IssueParams) (*Issued, error) {
	return e.IssueTx(ctx, e.store, p)
}

// IssueTx emite dentro de la tx del caller.
func (e *Engine) IssueTx(ctx context.Context, tx repository.Repositories, p IssueParams) (*Issued, error) {
	if !p.Kind.Persisted() {
		return nil, apperrors.ErrBadRequest.WithDetail("kind " + string(p.Kind) + " is not an opaque token")
	}
	if p.ApplicationID == "" || p.UserID == "" {
		return nil, apperrors.ErrBadRequest.WithDetail("application_id and user_id are required")
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = e.defaultTTL(p.Kind)
	}

	now := e.Now()
	for attempt := 1; ; attempt++ {
		value, err := tokens.NewValue()
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		t := repository.UserToken{
			ApplicationID: p.ApplicationID,
			UserID:        p.UserID,
			Kind:          p.Kind,
			TokenHash:     tokens.Hash(value),
			Subject:       p.Subject,
			IPAddress:     p.IP,
			UserAgent:     p.UserAgent,
			CreatedAt:     now,
			ExpiresAt:     now.Add(ttl),
		}
		if p.Code != "" {
			t.CodeHash = tokens.Hash(p.Code)
		}

		err = tx.Tokens().Create(ctx, &t)
		if err == nil {
			e.metrics.TokenIssued(string(p.Kind))
			return &Issued{Value: value, Token: t}, nil
		}
		// Con 256 bits una colisión es casi imposible; igual se reintenta.
		if repository.IsConflict(err) && attempt < maxIssueAttempts {
			continue
		}
		if repository.IsNotFound(err) {
			return nil, apperrors.ErrUserNotFound.WithCause(err)
		}
		return nil, apperrors.Internal(err)
	}
}

// ─── Validate ───

// Validate no consume: se puede llamar cuantas veces se quiera.
// applicationID vacío omite el chequeo de tenant.
func (e *Engine) Validate(ctx context.Context, value string, kind repository.TokenKind, applicationID string) (*repository.UserToken, error) {
	return e.ValidateTx(ctx, e.store, value, kind, applicationID)
}

// ValidateTx valida en este orden: NotFound, KindMismatch, AlreadyConsumed, Expired.
// Un token consumido sigue reportando AlreadyConsumed aunque después expire.
func (e *Engine) ValidateTx(ctx context.Context, tx repository.Repositories, value string, kind repository.TokenKind, applicationID string) (*repository.UserToken, error) {
	if value == "" {
		e.metrics.TokenRejected(string(kind), "not_found")
		return nil, apperrors.ErrTokenNotFound
	}
	t, err := tx.Tokens().GetByHash(ctx, tokens.Hash(value))
	if err != nil {
		if repository.IsNotFound(err) {
			e.metrics.TokenRejected(string(kind), "not_found")
			return nil, apperrors.ErrTokenNotFound
		}
		return nil, apperrors.Internal(err)
	}

	// Un token de otro tenant se reporta igual que uno inexistente.
	if applicationID != "" && t.ApplicationID != applicationID {
		e.metrics.TokenRejected(string(kind), "not_found")
		return nil, apperrors.ErrTokenNotFound
	}
	if t.Kind != kind {
		e.metrics.TokenRejected(string(kind), "kind_mismatch")
		return nil, apperrors.ErrTokenKindMismatch
	}
	if t.Consumed() {
		e.metrics.TokenRejected(string(kind), "consumed")
		return nil, apperrors.ErrTokenAlreadyConsumed
	}
	if !e.Now().Before(t.ExpiresAt) {
		e.metrics.TokenRejected(string(kind), "expired")
		return nil, apperrors.ErrTokenExpired
	}
	return t, nil
}

// ─── Consume ───

// Consume valida y marca consumido en su propia tx. Si el flujo tiene un
// cambio de estado asociado, usar ConsumeTx dentro de la tx de ese cambio.
func (e *Engine) Consume(ctx context.Context, value string, kind repository.TokenKind, applicationID string) (*repository.UserToken, error) {
	var out *repository.UserToken
	err := e.store.WithTx(ctx, func(tx repository.Repositories) error {
		t, err := e.ConsumeTx(ctx, tx, value, kind, applicationID)
		out = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConsumeTx: de N requests concurrentes con el mismo token, solo uno gana;
// el resto recibe AlreadyConsumed.
func (e *Engine) ConsumeTx(ctx context.Context, tx repository.Repositories, value string, kind repository.TokenKind, applicationID string) (*repository.UserToken, error) {
	t, err := e.ValidateTx(ctx, tx, value, kind, applicationID)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	changed, err := tx.Tokens().MarkConsumed(ctx, t.ID, now)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !changed {
		e.metrics.TokenRejected(string(kind), "consumed")
		return nil, apperrors.ErrTokenAlreadyConsumed
	}
	t.ConsumedAt = &now
	e.metrics.TokenConsumed(string(kind))
	logger.From(ctx).Debug("token consumed",
		logger.Layer("token"), logger.Op("consume"),
		logger.TokenKind(string(kind)), logger.TokenID(t.ID), logger.UserID(t.UserID))
	return t, nil
}

// ─── Revoke ───

// RevokeAll marca consumidos los tokens vivos del usuario de esos kinds.
// Sin kinds revoca todos. No explica el motivo al caller.
func (e *Engine) RevokeAll(ctx context.Context, userID string, kinds ...repository.TokenKind) (int, error) {
	return e.RevokeAllTx(ctx, e.store, userID, kinds...)
}

func (e *Engine) RevokeAllTx(ctx context.Context, tx repository.Repositories, userID string, kinds ...repository.TokenKind) (int, error) {
	n, err := tx.Tokens().RevokeAllByUser(ctx, userID, kinds, e.Now())
	if err != nil {
		return 0, apperrors.Internal(err)
	}
	label := "ALL"
	if len(kinds) == 1 {
		label = string(kinds[0])
	}
	e.metrics.TokensRevokedN(label, n)
	return n, nil
}

// MatchCode compara el código presentado con el guardado en el token.
func MatchCode(t *repository.UserToken, code string) bool {
	if t == nil || t.CodeHash == "" || code == "" {
		return false
	}
	return tokens.Matches(t.CodeHash, code)
}
