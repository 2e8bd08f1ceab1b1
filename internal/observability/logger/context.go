package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ToContext guarda el logger del request (request_id, user_id) en ctx.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From devuelve el logger del request o el global.
func From(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return L()
}

// For es el atajo de servicios y capas internas: logger del request con
// layer y op ya fijados.
func For(ctx context.Context, layer, op string, fields ...zap.Field) *zap.Logger {
	return From(ctx).With(append([]zap.Field{Layer(layer), Op(op)}, fields...)...)
}
