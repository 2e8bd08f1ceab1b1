// Package metrics agrupa los collectors Prometheus del core.
//
// No hay globals: main crea un *Metrics y lo pasa a cada componente.
// Todos los métodos aceptan receiver nil (no-op), útil en tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	TokensIssued    *prometheus.CounterVec
	TokensConsumed  *prometheus.CounterVec
	TokensRejected  *prometheus.CounterVec
	TokensRevoked   *prometheus.CounterVec
	HashDuration    *prometheus.HistogramVec
	LoginOutcomes   *prometheus.CounterVec
	ReplicationEvts *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New crea y registra los collectors en reg (default si nil).
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_tokens_issued_total",
			Help: "Tokens emitidos por kind",
		}, []string{"kind"}),
		TokensConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_tokens_consumed_total",
			Help: "Tokens consumidos por kind",
		}, []string{"kind"}),
		TokensRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_tokens_rejected_total",
			Help: "Validaciones de token fallidas por kind y motivo",
		}, []string{"kind", "reason"}),
		TokensRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_tokens_revoked_total",
			Help: "Tokens revocados en bloque por kind",
		}, []string{"kind"}),
		HashDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authcore_password_hash_duration_seconds",
			Help:    "Latencia de argon2 (hash y verify)",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"op"}),
		LoginOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_login_total",
			Help: "Intentos de login por resultado",
		}, []string{"result"}), // ok|totp_required|invalid|unverified|error
		ReplicationEvts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_replication_events_total",
			Help: "Eventos de replicación de Application por tipo y resultado",
		}, []string{"type", "result"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_application_cache_lookups_total",
			Help: "Resoluciones de Application por origen",
		}, []string{"source"}), // hit|load|miss
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	for _, c := range []prometheus.Collector{
		m.TokensIssued, m.TokensConsumed, m.TokensRejected, m.TokensRevoked,
		m.HashDuration, m.LoginOutcomes, m.ReplicationEvts, m.CacheLookups,
		m.HTTPRequests, m.HTTPDuration,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) TokenConsumed(kind string) {
	if m == nil {
		return
	}
	m.TokensConsumed.WithLabelValues(kind).Inc()
}

func (m *Metrics) TokenRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.TokensRejected.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) TokensRevokedN(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensRevoked.WithLabelValues(kind).Add(float64(n))
}

// ObserveHash mide desde start; usar con defer.
func (m *Metrics) ObserveHash(op string, start time.Time) {
	if m == nil {
		return
	}
	m.HashDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.LoginOutcomes.WithLabelValues(result).Inc()
}

func (m *Metrics) Replication(eventType, result string) {
	if m == nil {
		return
	}
	m.ReplicationEvts.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) CacheLookup(source string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(source).Inc()
}

func (m *Metrics) HTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
