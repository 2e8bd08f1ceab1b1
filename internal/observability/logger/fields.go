package logger

import (
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/authcore/internal/validation"
)

// ─── HTTP ───

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

// Path es el patrón de ruta, no la URL cruda.
func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

// ─── Identidad ───

func ApplicationID(v string) zap.Field { return zap.String("application_id", v) }

func UserID(v string) zap.Field { return zap.String("user_id", v) }

// SessionID es el id del refresh token, nunca su valor.
func SessionID(v string) zap.Field { return zap.String("sid", v) }

// Email loguea la dirección enmascarada (validation.MaskEmail).
func Email(v string) zap.Field { return zap.String("email", validation.MaskEmail(v)) }

// ─── Tokens ───

// TokenKind es el tipo de UserToken (nunca el valor).
func TokenKind(v string) zap.Field { return zap.String("token_kind", v) }

// TokenID es el id de fila del token.
func TokenID(v string) zap.Field { return zap.String("token_id", v) }

// ─── Replicación ───

func NodeID(v string) zap.Field { return zap.String("node_id", v) }

// Origin es el nodo que publicó un evento.
func Origin(v string) zap.Field { return zap.String("origin", v) }

// ─── Sistema ───

func Component(v string) zap.Field { return zap.String("component", v) }

// Op es la operación actual (ej: "token.consume").
func Op(v string) zap.Field { return zap.String("op", v) }

// Layer: handler, service, repository, replication.
func Layer(v string) zap.Field { return zap.String("layer", v) }

func Err(err error) zap.Field { return zap.Error(err) }

func Count(v int) zap.Field { return zap.Int("count", v) }

func String(key, v string) zap.Field { return zap.String(key, v) }

func Int(key string, v int) zap.Field { return zap.Int(key, v) }

func Any(key string, v any) zap.Field { return zap.Any(key, v) }
