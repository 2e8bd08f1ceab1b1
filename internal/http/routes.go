// Package http es el transporte HTTP (chi) del core: flujos públicos por
// aplicación, entrada de replicación, health y métricas.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dropDatabas3/authcore/internal/metrics"
	"github.com/dropDatabas3/authcore/internal/services/auth"
)

// Deps agrupa lo que necesita el router. Todo explícito, nada global.
type Deps struct {
	Auth    *auth.Service
	Apps    ReplicaWriter
	Store   Pinger
	Metrics *metrics.Metrics

	// Gatherer para /metrics (default si nil).
	Gatherer prometheus.Gatherer

	// JWKS publicado en /.well-known/jwks.json (opcional).
	JWKS []byte

	// Proxies de los que se acepta X-Forwarded-For (nil = ninguno).
	Proxies *ProxyTrust

	// ReplicationToken es el bearer compartido con el servicio de configuración.
	ReplicationToken string
}

// NewRouter arma el árbol de rutas.
// Orden: ClientIP → Recover → RequestID → Logging → SecurityHeaders → [NoStore] → [Auth]
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(WithClientIP(d.Proxies), WithRecover, WithRequestID, WithLogging(d.Metrics), WithSecurityHeaders)

	r.Get("/readyz", readyz(d.Store))
	r.Method(http.MethodGet, "/metrics", MetricsHandler(d.Gatherer))
	if len(d.JWKS) > 0 {
		jwks := d.JWKS
		r.Get("/.well-known/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "public, max-age=300")
			_, _ = w.Write(jwks)
		})
	}

	ah := &authHandlers{svc: d.Auth}
	r.Route("/v1/apps/{applicationID}", func(r chi.Router) {
		r.Use(WithNoStore)

		r.Post("/register", ah.register)
		r.Post("/email/confirm", ah.confirmEmail)
		r.Post("/email/resend", ah.resendVerification)

		r.Post("/login", ah.login)
		r.Post("/login/totp", ah.confirmTOTP)
		r.Post("/token/refresh", ah.refresh)
		r.Post("/logout", ah.logout)

		r.Post("/password/reset", ah.requestPasswordReset)
		r.Post("/password/reset/confirm", ah.confirmPasswordReset)

		r.Group(func(r chi.Router) {
			r.Use(RequireAccess(d.Auth))
			r.Post("/totp/enroll", ah.enrollTOTP)
			r.Post("/totp/disable", ah.disableTOTP)
			r.Get("/totp/backup-codes", ah.backupCodes)
		})
	})

	rh := &replicationHandlers{apps: d.Apps}
	r.Route("/internal/replication/applications", func(r chi.Router) {
		r.Use(RequireSharedToken(d.ReplicationToken))
		r.Put("/{applicationID}", rh.upsert)
		r.Post("/{applicationID}", rh.upsert)
		r.Delete("/{applicationID}", rh.delete)
	})

	return r
}
