package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/store"
)

func seedUser(t *testing.T, s *Store, appID string) *repository.User {
	t.Helper()
	ctx := context.Background()

	app := &repository.Application{
		ID:           appID,
		BasicAuth:    repository.DefaultBasicAuthConfig(),
		Verification: repository.VerificationConfig{Mode: repository.VerificationNone},
	}
	require.NoError(t, s.Applications().Upsert(ctx, app))

	u := &repository.User{ApplicationID: appID, PasswordEnabled: true}
	require.NoError(t, s.Users().Create(ctx, u))
	require.NotEmpty(t, u.ID)
	return u
}

func TestRegisteredInStoreRegistry(t *testing.T) {
	s, err := store.Open(context.Background(), "memory", store.AdapterConfig{})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())
	assert.NoError(t, s.Ping(context.Background()))
}

func TestWithTx_RollbackOnError(t *testing.T) {
	s := New()
	u := seedUser(t, s, "app-1")
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx repository.Repositories) error {
		if err := tx.Emails().Create(ctx, &repository.EmailAddress{
			UserID: u.ID, ApplicationID: "app-1", Address: "a@example.com",
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Emails().GetByAddress(ctx, "app-1", "a@example.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWithTx_CommitIsVisible(t *testing.T) {
	s := New()
	u := seedUser(t, s, "app-1")
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx repository.Repositories) error {
		return tx.BasicAuths().Create(ctx, &repository.BasicAuth{UserID: u.ID, PasswordHash: "h"})
	})
	require.NoError(t, err)

	ba, err := s.BasicAuths().GetByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "h", ba.PasswordHash)
}

func TestEmail_UniquePerApplication(t *testing.T) {
	s := New()
	ctx := context.Background()
	u1 := seedUser(t, s, "app-1")
	u2 := seedUser(t, s, "app-2")

	require.NoError(t, s.Emails().Create(ctx, &repository.EmailAddress{UserID: u1.ID, ApplicationID: "app-1", Address: "x@example.com"}))
	// Mismo address en otra app: permitido
	require.NoError(t, s.Emails().Create(ctx, &repository.EmailAddress{UserID: u2.ID, ApplicationID: "app-2", Address: "x@example.com"}))

	other := &repository.User{ApplicationID: "app-1"}
	require.NoError(t, s.Users().Create(ctx, other))
	err := s.Emails().Create(ctx, &repository.EmailAddress{UserID: other.ID, ApplicationID: "app-1", Address: "x@example.com"})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestApplicationDelete_Cascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "app-1")
	keep := seedUser(t, s, "app-2")

	require.NoError(t, s.Emails().Create(ctx, &repository.EmailAddress{UserID: u.ID, ApplicationID: "app-1", Address: "a@example.com"}))
	require.NoError(t, s.BasicAuths().Create(ctx, &repository.BasicAuth{UserID: u.ID, PasswordHash: "h"}))
	require.NoError(t, s.Tokens().Create(ctx, &repository.UserToken{
		ApplicationID: "app-1", UserID: u.ID, Kind: repository.TokenRefresh, TokenHash: "th",
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, s.TOTP().Create(ctx, &repository.TOTP{UserID: u.ID, Secret: "s"}, []repository.TOTPBackupCode{{CodeHash: "c1"}}))
	require.NoError(t, s.Metadata().Set(ctx, u.ID, "k", "v"))

	require.NoError(t, s.Applications().Delete(ctx, "app-1"))

	_, err := s.Users().GetByID(ctx, "app-1", u.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.Emails().GetByUser(ctx, u.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.BasicAuths().GetByUser(ctx, u.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.Tokens().GetByHash(ctx, "th")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.TOTP().GetByUser(ctx, u.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	md, err := s.Metadata().List(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, md)

	// La otra Application no se toca
	_, err = s.Users().GetByID(ctx, "app-2", keep.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, s.Applications().Delete(ctx, "app-1"), repository.ErrNotFound)
}

func TestMarkConsumed_ConcurrentSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "app-1")

	tok := &repository.UserToken{
		ApplicationID: "app-1", UserID: u.ID, Kind: repository.TokenPasswordReset,
		TokenHash: "hash", ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.Tokens().Create(ctx, tok))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Tokens().MarkConsumed(ctx, tok.ID, time.Now())
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestRevokeAllByUser_FiltersKinds(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "app-1")
	exp := time.Now().Add(time.Hour)

	for i, k := range []repository.TokenKind{repository.TokenRefresh, repository.TokenRefresh, repository.TokenPasswordReset} {
		require.NoError(t, s.Tokens().Create(ctx, &repository.UserToken{
			ApplicationID: "app-1", UserID: u.ID, Kind: k, TokenHash: string(rune('a' + i)), ExpiresAt: exp,
		}))
	}

	n, err := s.Tokens().RevokeAllByUser(ctx, u.ID, []repository.TokenKind{repository.TokenRefresh}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Segunda pasada: nada vivo de ese kind
	n, err = s.Tokens().RevokeAllByUser(ctx, u.ID, []repository.TokenKind{repository.TokenRefresh}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	reset, err := s.Tokens().GetByHash(ctx, "c")
	require.NoError(t, err)
	assert.Nil(t, reset.ConsumedAt)
}

func TestTOTP_BackupCodeSingleUseAndStep(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := seedUser(t, s, "app-1")

	tp := &repository.TOTP{UserID: u.ID, Secret: "s"}
	require.NoError(t, s.TOTP().Create(ctx, tp, []repository.TOTPBackupCode{{CodeHash: "c1"}, {CodeHash: "c2"}}))
	assert.ErrorIs(t, s.TOTP().Create(ctx, &repository.TOTP{UserID: u.ID}, nil), repository.ErrConflict)

	ok, err := s.TOTP().UseBackupCode(ctx, tp.ID, "c1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.TOTP().UseBackupCode(ctx, tp.ID, "c1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.TOTP().GetByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Remaining())

	ok, err = s.TOTP().AdvanceStep(ctx, tp.ID, 100)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.TOTP().AdvanceStep(ctx, tp.ID, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplicationUpsert_PreservesCreatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()

	app := &repository.Application{ID: "app-1", BasicAuth: repository.DefaultBasicAuthConfig(), Verification: repository.VerificationConfig{Mode: repository.VerificationLink}}
	require.NoError(t, s.Applications().Upsert(ctx, app))
	first, err := s.Applications().Get(ctx, "app-1")
	require.NoError(t, err)

	app2 := &repository.Application{ID: "app-1", DomainName: "new.example.com", BasicAuth: repository.DefaultBasicAuthConfig(), Verification: repository.VerificationConfig{Mode: repository.VerificationCode}}
	require.NoError(t, s.Applications().Upsert(ctx, app2))

	got, err := s.Applications().Get(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
	assert.Equal(t, repository.VerificationCode, got.Verification.Mode)
	assert.Equal(t, "new.example.com", got.DomainName)
}
