package repository

import "context"

// Repositories agrupa los accesos a datos. La misma interfaz se usa dentro y
// fuera de una transacción.
type Repositories interface {
	Applications() ApplicationRepository
	Users() UserRepository
	Emails() EmailRepository
	BasicAuths() BasicAuthRepository
	Tokens() UserTokenRepository
	TOTP() TOTPRepository
	Metadata() MetadataRepository
}

// Store es una conexión abierta a un backend de persistencia.
type Store interface {
	Repositories

	// WithTx ejecuta fn en una transacción todo-o-nada. Si fn retorna error
	// (o el contexto se cancela) no queda nada aplicado.
	// Dentro de fn usar SOLO el tx recibido.
	WithTx(ctx context.Context, fn func(tx Repositories) error) error

	Name() string
	Ping(ctx context.Context) error
	Close() error
}
