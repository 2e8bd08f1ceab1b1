// Package messaging despacha los mensajes salientes del core (verificación de
// email y reset de password). El core decide link vs código y genera el
// valor; la entrega y el template son de acá.
package messaging

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/authcore/internal/observability/logger"
)

type Template string

const (
	TemplateVerifyEmail   Template = "verify_email"
	TemplateResetPassword Template = "reset_password"
)

// Message lleva URL o Code, nunca los dos.
type Message struct {
	ApplicationID string
	Domain        string
	To            string
	Template      Template
	URL           string
	Code          string
	TTL           time.Duration
}

type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// BuildURL agrega param=value a la query de base, respetando la query existente.
func BuildURL(base, param, value string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("messaging: bad redirect url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("messaging: redirect url must be absolute: %q", base)
	}
	q := u.Query()
	q.Set(param, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ─── Log ───

// LogDispatcher no envía nada. Con Reveal loguea el link/código (solo dev).
type LogDispatcher struct {
	Reveal bool
}

func (d LogDispatcher) Dispatch(ctx context.Context, msg Message) error {
	fields := []zap.Field{
		logger.Layer("messaging"),
		logger.ApplicationID(msg.ApplicationID),
		logger.String("template", string(msg.Template)),
		logger.String("to", msg.To),
	}
	if d.Reveal {
		fields = append(fields, logger.String("url", msg.URL), logger.String("code", msg.Code))
	}
	logger.From(ctx).Info("message dispatched (log only)", fields...)
	return nil
}

// ─── Recorder ───

// Recorder guarda los mensajes en memoria. Útil en tests y entornos sin SMTP.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
}

func (r *Recorder) Dispatch(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

// Last devuelve el último mensaje enviado a to.
func (r *Recorder) Last(to string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].To == to {
			return r.msgs[i], true
		}
	}
	return Message{}, false
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}
