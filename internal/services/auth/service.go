// Package auth compone el core en los flujos públicos: registro,
// verificación de email, login (con o sin segundo factor), refresh, logout,
// reset de password y alta/baja de TOTP.
//
// Toda transición que valida+consume+muta corre en una sola tx.
package auth

import (
	"context"

	"github.com/dropDatabas3/authcore/internal/credential"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/messaging"
	"github.com/dropDatabas3/authcore/internal/metrics"
	"github.com/dropDatabas3/authcore/internal/mfa"
	"github.com/dropDatabas3/authcore/internal/session"
	"github.com/dropDatabas3/authcore/internal/token"
)

// AppResolver resuelve la política del tenant. NotFound corta el flujo.
type AppResolver interface {
	Resolve(ctx context.Context, applicationID string) (*repository.Application, error)
}

// Deps son los componentes que usa el servicio; todos explícitos.
type Deps struct {
	Store       repository.Store
	Apps        AppResolver
	Credentials *credential.Store
	Tokens      *token.Engine
	Sessions    *session.Manager
	MFA         *mfa.Service
	Dispatcher  messaging.Dispatcher
	Metrics     *metrics.Metrics
}

type Service struct {
	store       repository.Store
	apps        AppResolver
	credentials *credential.Store
	tokens      *token.Engine
	sessions    *session.Manager
	mfa         *mfa.Service
	dispatcher  messaging.Dispatcher
	metrics     *metrics.Metrics
}

func NewService(d Deps) *Service {
	disp := d.Dispatcher
	if disp == nil {
		disp = messaging.LogDispatcher{}
	}
	return &Service{
		store:       d.Store,
		apps:        d.Apps,
		credentials: d.Credentials,
		tokens:      d.Tokens,
		sessions:    d.Sessions,
		mfa:         d.MFA,
		dispatcher:  disp,
		metrics:     d.Metrics,
	}
}

// ClientMeta viaja con cada request para forense.
type ClientMeta = session.ClientMeta
