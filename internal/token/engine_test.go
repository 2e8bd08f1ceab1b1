package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/store/adapters/memory"
)

type fixture struct {
	st   *memory.Store
	eng  *Engine
	user *repository.User
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.Applications().Upsert(ctx, &repository.Application{
		ID:           "app-1",
		BasicAuth:    repository.DefaultBasicAuthConfig(),
		Verification: repository.VerificationConfig{Mode: repository.VerificationLink},
	}))
	u := &repository.User{ApplicationID: "app-1", PasswordEnabled: true}
	require.NoError(t, st.Users().Create(ctx, u))

	f := &fixture{st: st, user: u, now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	f.eng = NewEngine(st, TTLs{}, nil)
	f.eng.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) issue(t *testing.T, kind repository.TokenKind) *Issued {
	t.Helper()
	out, err := f.eng.Issue(context.Background(), IssueParams{
		ApplicationID: "app-1", UserID: f.user.ID, Kind: kind, IP: "10.0.0.1", UserAgent: "test",
	})
	require.NoError(t, err)
	return out
}

func TestIssue_StoresHashOnly(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, repository.TokenPasswordReset)

	assert.NotEmpty(t, out.Value)
	assert.NotEqual(t, out.Value, out.Token.TokenHash)
	assert.Equal(t, f.now.Add(time.Hour), out.Token.ExpiresAt)
	assert.Equal(t, "10.0.0.1", out.Token.IPAddress)

	other := f.issue(t, repository.TokenPasswordReset)
	assert.NotEqual(t, out.Value, other.Value)
}

func TestIssue_DefaultTTLs(t *testing.T) {
	f := newFixture(t)
	cases := map[repository.TokenKind]time.Duration{
		repository.TokenRefresh:           720 * time.Hour,
		repository.TokenTOTPFlow:          5 * time.Minute,
		repository.TokenEmailVerification: 24 * time.Hour,
	}
	for kind, ttl := range cases {
		out := f.issue(t, kind)
		assert.Equal(t, f.now.Add(ttl), out.Token.ExpiresAt, kind)
	}
}

func TestIssue_RefusesAccessKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Issue(context.Background(), IssueParams{
		ApplicationID: "app-1", UserID: f.user.ID, Kind: repository.TokenAccess,
	})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestIssue_UnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Issue(context.Background(), IssueParams{
		ApplicationID: "app-1", UserID: "ghost", Kind: repository.TokenRefresh,
	})
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestLifecycle_ValidateConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out := f.issue(t, repository.TokenEmailVerification)

	for i := 0; i < 3; i++ {
		tok, err := f.eng.Validate(ctx, out.Value, repository.TokenEmailVerification, "app-1")
		require.NoError(t, err)
		assert.Equal(t, f.user.ID, tok.UserID)
	}

	_, err := f.eng.Consume(ctx, out.Value, repository.TokenEmailVerification, "app-1")
	require.NoError(t, err)

	_, err = f.eng.Validate(ctx, out.Value, repository.TokenEmailVerification, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrTokenAlreadyConsumed)
	_, err = f.eng.Consume(ctx, out.Value, repository.TokenEmailVerification, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrTokenAlreadyConsumed)

	// consumido y además vencido: sigue siendo AlreadyConsumed
	f.now = f.now.Add(48 * time.Hour)
	_, err = f.eng.Validate(ctx, out.Value, repository.TokenEmailVerification, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrTokenAlreadyConsumed)
}

func TestValidate_Expired(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, repository.TokenTOTPFlow)

	f.now = f.now.Add(5 * time.Minute)
	_, err := f.eng.Validate(context.Background(), out.Value, repository.TokenTOTPFlow, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
	assert.Equal(t, apperrors.KindExpired, apperrors.KindOf(err))
}

func TestValidate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out := f.issue(t, repository.TokenRefresh)

	_, err := f.eng.Validate(ctx, "nope", repository.TokenRefresh, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrTokenNotFound)

	_, err = f.eng.Validate(ctx, "", repository.TokenRefresh, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrTokenNotFound)

	_, err = f.eng.Validate(ctx, out.Value, repository.TokenPasswordReset, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrTokenKindMismatch)

	_, err = f.eng.Validate(ctx, out.Value, repository.TokenRefresh, "app-2")
	assert.ErrorIs(t, err, apperrors.ErrTokenNotFound)
}

func TestConsume_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	out := f.issue(t, repository.TokenPasswordReset)

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.eng.Consume(context.Background(), out.Value, repository.TokenPasswordReset, "app-1")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrTokenAlreadyConsumed)
	}
	assert.Equal(t, 1, ok)
}

func TestConsumeTx_RollsBackWithCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out := f.issue(t, repository.TokenPasswordReset)

	err := f.st.WithTx(ctx, func(tx repository.Repositories) error {
		if _, err := f.eng.ConsumeTx(ctx, tx, out.Value, repository.TokenPasswordReset, "app-1"); err != nil {
			return err
		}
		return apperrors.ErrInternal
	})
	require.Error(t, err)

	_, err = f.eng.Validate(ctx, out.Value, repository.TokenPasswordReset, "app-1")
	assert.NoError(t, err)
}

func TestRevokeAll_ByKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.issue(t, repository.TokenRefresh)
	r2 := f.issue(t, repository.TokenRefresh)
	flow := f.issue(t, repository.TokenTOTPFlow)

	n, err := f.eng.RevokeAll(ctx, f.user.ID, repository.TokenRefresh)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, v := range []string{r1.Value, r2.Value} {
		_, err := f.eng.Validate(ctx, v, repository.TokenRefresh, "app-1")
		assert.ErrorIs(t, err, apperrors.ErrTokenAlreadyConsumed)
	}
	_, err = f.eng.Validate(ctx, flow.Value, repository.TokenTOTPFlow, "app-1")
	assert.NoError(t, err)
}

func TestMatchCode(t *testing.T) {
	f := newFixture(t)
	out, err := f.eng.Issue(context.Background(), IssueParams{
		ApplicationID: "app-1", UserID: f.user.ID, Kind: repository.TokenEmailVerification, Code: "123456",
	})
	require.NoError(t, err)

	assert.True(t, MatchCode(&out.Token, "123456"))
	assert.False(t, MatchCode(&out.Token, "654321"))
	assert.False(t, MatchCode(&out.Token, ""))
	assert.False(t, MatchCode(nil, "123456"))
}
