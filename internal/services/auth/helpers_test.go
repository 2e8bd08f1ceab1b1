package auth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authcore/internal/credential"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/jwt"
	"github.com/dropDatabas3/authcore/internal/messaging"
	"github.com/dropDatabas3/authcore/internal/mfa"
	"github.com/dropDatabas3/authcore/internal/replication"
	"github.com/dropDatabas3/authcore/internal/security/password"
	"github.com/dropDatabas3/authcore/internal/session"
	"github.com/dropDatabas3/authcore/internal/store/adapters/memory"
	"github.com/dropDatabas3/authcore/internal/token"
)

const (
	testApp      = "app-1"
	testEmail    = "a@example.com"
	testPassword = "Str0ngP@ss1"
)

var testMeta = ClientMeta{IP: "10.0.0.1", UserAgent: "test"}

type harness struct {
	st   *memory.Store
	apps *replication.Cache
	eng  *token.Engine
	rec  *messaging.Recorder
	svc  *Service
	now  time.Time
}

func testPolicy() repository.BasicAuthConfig {
	return repository.BasicAuthConfig{
		MinPasswordLength: 8,
		MaxPasswordLength: 128,
		StrictMode:        true,
		MinUppercase:      1,
		MinLowercase:      1,
		MinDigits:         1,
	}
}

func newHarness(t *testing.T, mode repository.VerificationMode) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		st:  memory.New(),
		rec: &messaging.Recorder{},
		now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	h.apps = replication.New(h.st, nil, nil, replication.Config{})
	require.NoError(t, h.apps.ApplyUpsert(ctx, repository.Application{
		ID:         testApp,
		DomainName: "app.example.com",
		BasicAuth:  testPolicy(),
		Verification: repository.VerificationConfig{
			Mode:        mode,
			RedirectURL: "https://app.example.com/callback",
		},
	}))

	h.eng = token.NewEngine(h.st, token.TTLs{}, nil)
	h.eng.SetClock(func() time.Time { return h.now })

	ks, err := jwt.NewDevKeySet()
	require.NoError(t, err)
	hasher := password.NewHasher(password.Params{Memory: 1024, Time: 1, Parallelism: 1, KeyLen: 32}, 2)

	h.svc = NewService(Deps{
		Store:       h.st,
		Apps:        h.apps,
		Credentials: credential.New(hasher, nil, nil),
		Tokens:      h.eng,
		Sessions:    session.NewManager(h.st, h.eng, jwt.NewIssuer("https://auth.test", ks, time.Minute), session.Config{}),
		MFA:         mfa.NewService(h.st, h.eng, nil, mfa.Config{Issuer: "test"}),
		Dispatcher:  h.rec,
	})
	return h
}

func (h *harness) register(t *testing.T, email, pass string) *RegisterResult {
	t.Helper()
	res, err := h.svc.Register(context.Background(), RegisterInput{
		ApplicationID: testApp, Email: email, Password: pass, Meta: testMeta,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) login(t *testing.T, email, pass string) *LoginResult {
	t.Helper()
	res, err := h.svc.Login(context.Background(), LoginInput{
		ApplicationID: testApp, Email: email, Password: pass, Meta: testMeta,
	})
	require.NoError(t, err)
	return res
}

// queryParam saca param del link del último mensaje a to.
func (h *harness) queryParam(t *testing.T, to, param string) string {
	t.Helper()
	msg, ok := h.rec.Last(to)
	require.True(t, ok, "no message for %s", to)
	u, err := url.Parse(msg.URL)
	require.NoError(t, err)
	v := u.Query().Get(param)
	require.NotEmpty(t, v)
	return v
}
