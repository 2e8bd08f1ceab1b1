package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/metrics"
	"github.com/dropDatabas3/authcore/internal/observability/logger"
	"github.com/dropDatabas3/authcore/internal/session"
)

type ctxKey string

const ctxPrincipalKey ctxKey = "principal"

// PrincipalFrom devuelve el principal autenticado por RequireAccess (o nil).
func PrincipalFrom(ctx context.Context) *session.Principal {
	p, _ := ctx.Value(ctxPrincipalKey).(*session.Principal)
	return p
}

// ─────────────── Security Headers ───────────────

// WithSecurityHeaders inyecta cabeceras de defensa para una API JSON.
func WithSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// WithNoStore: las respuestas llevan tokens o secretos.
func WithNoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// ─────────────── Request ID ───────────────

// WithRequestID respeta X-Request-ID entrante y deja un logger con el id en el ctx.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)

		l := logger.From(r.Context()).With(logger.RequestID(rid))
		next.ServeHTTP(w, r.WithContext(logger.ToContext(r.Context(), l)))
	})
}

// ─────────────── Recover de pánicos ───────────────

func WithRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.From(r.Context()).Error("panic recovered",
					logger.Layer("http"), zap.Any("panic", rec), zap.Stack("stack"))
				WriteError(w, r, apperrors.ErrInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ─────────────── Logging + métricas ───────────────

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// WithLogging registra cada request y alimenta las métricas HTTP.
// El label de path es el patrón de chi, no el path crudo.
func WithLogging(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			dur := time.Since(start)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			route := routeLabel(r)
			m.HTTP(r.Method, route, rec.status, dur)

			logger.From(r.Context()).Info("http",
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.String("route", route),
				logger.Status(rec.status),
				logger.Int("bytes", rec.bytes),
				logger.Duration(dur),
				logger.ClientIP(clientIP(r)),
			)
		})
	}
}

func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// ─────────────── Auth ───────────────

// Authenticator valida access tokens (firma y exp, sin storage).
type Authenticator interface {
	Authenticate(accessToken string) (*session.Principal, error)
}

// RequireAccess exige un access token válido emitido para la app del path.
func RequireAccess(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				WriteError(w, r, apperrors.ErrInvalidAccessToken.WithDetail("missing bearer token"))
				return
			}
			p, err := a.Authenticate(raw)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			if appID := chi.URLParam(r, "applicationID"); appID != "" && appID != p.ApplicationID {
				WriteError(w, r, apperrors.ErrInvalidAccessToken)
				return
			}
			l := logger.From(r.Context()).With(logger.UserID(p.UserID))
			ctx := context.WithValue(r.Context(), ctxPrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(logger.ToContext(ctx, l)))
		})
	}
}

// RequireSharedToken protege la entrada de replicación. Token vacío = todo rechazado.
func RequireSharedToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearerToken(r)
			if token == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteError(w, r, apperrors.ErrInvalidCredentials.WithDetail("replication token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

