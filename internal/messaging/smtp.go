package messaging

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	htmltpl "html/template"
	texttpl "text/template"

	mail "github.com/go-mail/mail"

	"github.com/dropDatabas3/authcore/internal/observability/logger"
)

//go:embed templates/*
var templatesFS embed.FS

// SMTPConfig es la conexión al relay.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

// Templates agrupa html + txt por Template.
type Templates struct {
	html map[Template]*htmltpl.Template
	text map[Template]*texttpl.Template
}

var subjects = map[Template]string{
	TemplateVerifyEmail:   "Verificá tu email",
	TemplateResetPassword: "Restablecer password",
}

// LoadTemplates parsea los templates embebidos.
func LoadTemplates() (*Templates, error) {
	t := &Templates{html: map[Template]*htmltpl.Template{}, text: map[Template]*texttpl.Template{}}
	for name := range subjects {
		h, err := htmltpl.ParseFS(templatesFS, "templates/"+string(name)+".html")
		if err != nil {
			return nil, err
		}
		x, err := texttpl.ParseFS(templatesFS, "templates/"+string(name)+".txt")
		if err != nil {
			return nil, err
		}
		t.html[name] = h
		t.text[name] = x
	}
	return t, nil
}

type vars struct {
	To     string
	Domain string
	URL    string
	Code   string
	TTL    string
}

// Render devuelve subject, html y texto del mensaje.
func (t *Templates) Render(msg Message) (subject, html, text string, err error) {
	h, ok := t.html[msg.Template]
	if !ok {
		return "", "", "", fmt.Errorf("messaging: unknown template %q", msg.Template)
	}
	v := vars{To: msg.To, Domain: msg.Domain, URL: msg.URL, Code: msg.Code, TTL: msg.TTL.String()}
	if v.Domain == "" {
		v.Domain = msg.ApplicationID
	}

	var hb, tb bytes.Buffer
	if err := h.Execute(&hb, v); err != nil {
		return "", "", "", err
	}
	if err := t.text[msg.Template].Execute(&tb, v); err != nil {
		return "", "", "", err
	}
	return subjects[msg.Template], hb.String(), tb.String(), nil
}

// SMTPDispatcher envía por SMTP con go-mail.
type SMTPDispatcher struct {
	cfg SMTPConfig
	tpl *Templates
	// send es reemplazable en tests.
	send func(*mail.Message) error
}

func NewSMTP(cfg SMTPConfig, tpl *Templates) *SMTPDispatcher {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	d := &SMTPDispatcher{cfg: cfg, tpl: tpl}
	d.send = d.dialAndSend
	return d
}

func (d *SMTPDispatcher) Dispatch(ctx context.Context, msg Message) error {
	log := logger.From(ctx).With(
		logger.Component("SMTPDispatcher"),
		logger.String("host", d.cfg.Host),
		logger.String("template", string(msg.Template)),
		logger.ApplicationID(msg.ApplicationID),
	)

	subject, html, text, err := d.tpl.Render(msg)
	if err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", d.cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)

	if err := d.send(m); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Info("email sent")
	return nil
}

func (d *SMTPDispatcher) dialAndSend(m *mail.Message) error {
	dl := mail.NewDialer(d.cfg.Host, d.cfg.Port, d.cfg.Username, d.cfg.Password)
	dl.TLSConfig = &tls.Config{
		ServerName:         d.cfg.Host,
		InsecureSkipVerify: d.cfg.InsecureSkipVerify,
	}
	switch d.cfg.TLSMode {
	case "ssl":
		dl.SSL = true
	case "none":
		dl.StartTLSPolicy = mail.NoStartTLS
	}
	return dl.DialAndSend(m)
}
