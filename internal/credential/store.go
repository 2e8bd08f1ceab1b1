// Package credential es el Credential Store: política de passwords, hashing
// argon2id y verificación. Nunca loguea ni devuelve el password.
package credential

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/metrics"
	"github.com/dropDatabas3/authcore/internal/security/password"
)

type Store struct {
	hasher    *password.Hasher
	blacklist *password.Blacklist
	metrics   *metrics.Metrics

	dummyOnce sync.Once
	dummy     string
}

// New arma el Store. blacklist y m pueden ser nil.
func New(h *password.Hasher, blacklist *password.Blacklist, m *metrics.Metrics) *Store {
	return &Store{hasher: h, blacklist: blacklist, metrics: m}
}

// EvaluatePolicy es pura: misma entrada, mismo resultado, sin efectos.
func (s *Store) EvaluatePolicy(plain string, cfg repository.BasicAuthConfig, userInputs ...string) password.PolicyResult {
	res := password.Evaluate(plain, cfg, userInputs)
	if s.blacklist.Contains(plain) {
		res.Reasons = append(res.Reasons, password.ReasonCommonPassword)
		res.OK = false
	}
	return res
}

// Hash rechaza con ErrWeakPassword exactamente lo que EvaluatePolicy rechaza.
func (s *Store) Hash(ctx context.Context, cfg repository.BasicAuthConfig, plain string, userInputs ...string) (string, error) {
	if res := s.EvaluatePolicy(plain, cfg, userInputs...); !res.OK {
		return "", apperrors.ErrWeakPassword.WithDetail(strings.Join(res.Reasons, ","))
	}

	defer s.metrics.ObserveHash("hash", time.Now())
	phc, err := s.hasher.Hash(ctx, plain)
	if err != nil {
		return "", apperrors.Internal(err)
	}
	return phc, nil
}

// Verify compara en tiempo constante. Un hash corrupto es simplemente false.
func (s *Store) Verify(ctx context.Context, plain, phc string) (bool, error) {
	defer s.metrics.ObserveHash("verify", time.Now())
	ok, err := s.hasher.Verify(ctx, plain, phc)
	if err != nil {
		return false, apperrors.Internal(err)
	}
	return ok, nil
}

// VerifyDummy gasta el mismo tiempo que un Verify real. Se usa cuando el
// email no existe, para que el tiempo de respuesta no delate cuentas.
func (s *Store) VerifyDummy(ctx context.Context, plain string) {
	s.dummyOnce.Do(func() {
		s.dummy, _ = s.hasher.Hash(context.Background(), "dummy-password-for-timing")
	})
	_, _ = s.Verify(ctx, plain, s.dummy)
}
