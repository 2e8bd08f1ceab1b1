package replication

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/store/adapters/memory"
)

func testApp(id string, minLen int) repository.Application {
	ba := repository.DefaultBasicAuthConfig()
	ba.MinPasswordLength = minLen
	return repository.Application{
		ID:         id,
		DomainName: id + ".example.com",
		BasicAuth:  ba,
		Verification: repository.VerificationConfig{
			Mode:            repository.VerificationLink,
			RedirectURL:     "https://" + id + ".example.com/verify",
			TokenTTLSeconds: 3600,
		},
	}
}

func TestResolve_AfterUpsert(t *testing.T) {
	ctx := context.Background()
	c := New(memory.New(), nil, nil, Config{})

	require.NoError(t, c.ApplyUpsert(ctx, testApp("app-1", 10)))

	app, err := c.Resolve(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, 10, app.BasicAuth.MinPasswordLength)
	assert.Equal(t, time.Hour, app.Verification.TokenTTL())

	// el caller no puede tocar el snapshot
	app.BasicAuth.MinPasswordLength = 1
	again, err := c.Resolve(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, 10, again.BasicAuth.MinPasswordLength)
}

func TestResolve_UnknownIsFatal(t *testing.T) {
	c := New(memory.New(), nil, nil, Config{})
	_, err := c.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrApplicationNotFound)

	_, err = c.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrApplicationNotFound)
}

func TestResolve_LoadsFromStoreOnMiss(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	app := testApp("app-1", 12)
	require.NoError(t, st.Applications().Upsert(ctx, &app))

	c := New(st, nil, nil, Config{})
	assert.Equal(t, 0, c.Len())

	got, err := c.Resolve(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, 12, got.BasicAuth.MinPasswordLength)
	assert.Equal(t, 1, c.Len())
}

func TestApplyUpsert_RejectsInvalidConfig(t *testing.T) {
	c := New(memory.New(), nil, nil, Config{})
	bad := testApp("app-1", 10)
	bad.BasicAuth.MaxPasswordLength = 5

	err := c.ApplyUpsert(context.Background(), bad)
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)

	_, err = c.Resolve(context.Background(), "app-1")
	assert.ErrorIs(t, err, apperrors.ErrApplicationNotFound)
}

func TestApplyDelete_CascadesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := New(st, nil, nil, Config{})
	require.NoError(t, c.ApplyUpsert(ctx, testApp("app-1", 8)))

	u := &repository.User{ApplicationID: "app-1"}
	require.NoError(t, st.Users().Create(ctx, u))
	require.NoError(t, st.Tokens().Create(ctx, &repository.UserToken{
		ApplicationID: "app-1", UserID: u.ID, Kind: repository.TokenRefresh,
		TokenHash: "h1", ExpiresAt: time.Now().Add(time.Hour),
	}))

	require.NoError(t, c.ApplyDelete(ctx, "app-1"))

	_, err := c.Resolve(ctx, "app-1")
	assert.ErrorIs(t, err, apperrors.ErrApplicationNotFound)
	_, err = st.Users().GetByID(ctx, "app-1", u.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = st.Tokens().GetByHash(ctx, "h1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.NoError(t, c.ApplyDelete(ctx, "app-1"))
}

func TestApplyUpsert_ConcurrentSameKeyStaysConsistent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := New(st, nil, nil, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			app := testApp("app-1", 8+i)
			app.Verification.TokenTTLSeconds = 100 + i
			assert.NoError(t, c.ApplyUpsert(ctx, app))
		}(i)
	}
	wg.Wait()

	cached, err := c.Resolve(ctx, "app-1")
	require.NoError(t, err)
	stored, err := st.Applications().Get(ctx, "app-1")
	require.NoError(t, err)

	assert.Equal(t, stored.BasicAuth, cached.BasicAuth)
	assert.Equal(t, stored.Verification, cached.Verification)
	// las dos sub-configs vienen del mismo upsert
	assert.Equal(t, cached.BasicAuth.MinPasswordLength-8, cached.Verification.TokenTTLSeconds-100)
	assert.Equal(t, 0, c.locks.size())
}

func TestWarmup(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	for i := 0; i < 3; i++ {
		app := testApp(fmt.Sprintf("app-%d", i), 8)
		require.NoError(t, st.Applications().Upsert(ctx, &app))
	}
	c := New(st, nil, nil, Config{})

	n, err := c.Warmup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, c.Len())
}

func TestRedisBroadcast_InvalidatesOtherNodes(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	st := memory.New()
	a := New(st, NewRedisWithClient(rdb, "test:repl"), nil, Config{NodeID: "a"})
	b := New(st, NewRedisWithClient(rdb, "test:repl"), nil, Config{NodeID: "b"})

	require.NoError(t, b.ApplyUpsert(ctx, testApp("app-1", 8)))
	got, err := a.Resolve(ctx, "app-1")
	require.NoError(t, err)
	require.Equal(t, 8, got.BasicAuth.MinPasswordLength)

	sub, err := a.bc.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()
	go a.Listen(ctx, sub)

	require.NoError(t, b.ApplyUpsert(ctx, testApp("app-1", 14)))

	assert.Eventually(t, func() bool {
		app, err := a.Resolve(ctx, "app-1")
		return err == nil && app.BasicAuth.MinPasswordLength == 14
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.ApplyDelete(ctx, "app-1"))
	assert.Eventually(t, func() bool {
		_, err := a.Resolve(ctx, "app-1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListen_IgnoresOwnEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(memory.New(), nil, nil, Config{NodeID: "self"})
	require.NoError(t, c.ApplyUpsert(ctx, testApp("app-1", 8)))

	ch := make(chan Event, 2)
	ch <- Event{Type: EventUpsert, ApplicationID: "app-1", Origin: "self"}
	close(ch)
	c.Listen(ctx, chanSub(ch))

	assert.Equal(t, 1, c.Len())
}

type chanSub chan Event

func (s chanSub) Events() <-chan Event { return s }
func (s chanSub) Close() error         { return nil }
