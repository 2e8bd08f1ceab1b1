// Package memory implementa repository.Store en memoria.
//
// Se usa en tests y en modo dev. Las transacciones clonan el estado completo
// y lo reemplazan al commit, así que un error dentro de WithTx no deja nada
// aplicado.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/store"
)

func init() {
	store.RegisterAdapter(&memoryAdapter{})
}

type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return "memory" }

func (a *memoryAdapter) Open(_ context.Context, _ store.AdapterConfig) (repository.Store, error) {
	return New(), nil
}

// Store es un repository.Store en memoria. El zero value no es usable; usar New.
type Store struct {
	mu     sync.Mutex
	st     *state
	closed bool
}

// New crea un Store vacío.
func New() *Store {
	return &Store{st: newState()}
}

var errClosed = errors.New("memory: store closed")

func (s *Store) Name() string { return "memory" }

func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// WithTx serializa todas las transacciones. Dentro de fn no usar los repos
// del Store (deadlock): solo el tx recibido.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.st.clone()
	if err := fn(repos{s: s, tx: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

// ─── Repositorios fuera de tx ───

func (s *Store) Applications() repository.ApplicationRepository { return repos{s: s}.Applications() }
func (s *Store) Users() repository.UserRepository               { return repos{s: s}.Users() }
func (s *Store) Emails() repository.EmailRepository             { return repos{s: s}.Emails() }
func (s *Store) BasicAuths() repository.BasicAuthRepository     { return repos{s: s}.BasicAuths() }
func (s *Store) Tokens() repository.UserTokenRepository         { return repos{s: s}.Tokens() }
func (s *Store) TOTP() repository.TOTPRepository                { return repos{s: s}.TOTP() }
func (s *Store) Metadata() repository.MetadataRepository        { return repos{s: s}.Metadata() }

// repos opera sobre tx si no es nil; si no, toma el lock del Store.
type repos struct {
	s  *Store
	tx *state
}

func (r repos) do(fn func(st *state) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.closed {
		return errClosed
	}
	return fn(r.s.st)
}

func (r repos) Applications() repository.ApplicationRepository { return appRepo{r} }
func (r repos) Users() repository.UserRepository               { return userRepo{r} }
func (r repos) Emails() repository.EmailRepository             { return emailRepo{r} }
func (r repos) BasicAuths() repository.BasicAuthRepository     { return basicAuthRepo{r} }
func (r repos) Tokens() repository.UserTokenRepository         { return tokenRepo{r} }
func (r repos) TOTP() repository.TOTPRepository                { return totpRepo{r} }
func (r repos) Metadata() repository.MetadataRepository        { return metadataRepo{r} }

// Compile-time checks.
var (
	_ repository.Store        = (*Store)(nil)
	_ repository.Repositories = repos{}
)
