package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/credential"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/jwt"
	"github.com/dropDatabas3/authcore/internal/messaging"
	"github.com/dropDatabas3/authcore/internal/metrics"
	"github.com/dropDatabas3/authcore/internal/mfa"
	"github.com/dropDatabas3/authcore/internal/replication"
	"github.com/dropDatabas3/authcore/internal/security/password"
	"github.com/dropDatabas3/authcore/internal/security/totp"
	"github.com/dropDatabas3/authcore/internal/services/auth"
	"github.com/dropDatabas3/authcore/internal/session"
	"github.com/dropDatabas3/authcore/internal/store/adapters/memory"
	"github.com/dropDatabas3/authcore/internal/token"
)

const (
	replToken = "s3cret-replication"
	pass      = "Str0ngP@ss1"
)

type server struct {
	h   http.Handler
	st  *memory.Store
	rec *messaging.Recorder
	now time.Time
}

func newServer(t *testing.T) *server {
	t.Helper()
	s := &server{
		st:  memory.New(),
		rec: &messaging.Recorder{},
		now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	apps := replication.New(s.st, nil, m, replication.Config{})
	eng := token.NewEngine(s.st, token.TTLs{}, m)
	eng.SetClock(func() time.Time { return s.now })

	ks, err := jwt.NewDevKeySet()
	require.NoError(t, err)
	hasher := password.NewHasher(password.Params{Memory: 1024, Time: 1, Parallelism: 1, KeyLen: 32}, 2)

	svc := auth.NewService(auth.Deps{
		Store:       s.st,
		Apps:        apps,
		Credentials: credential.New(hasher, nil, m),
		Tokens:      eng,
		Sessions:    session.NewManager(s.st, eng, jwt.NewIssuer("https://auth.test", ks, time.Minute), session.Config{}),
		MFA:         mfa.NewService(s.st, eng, nil, mfa.Config{Issuer: "test"}),
		Dispatcher:  s.rec,
		Metrics:     m,
	})

	s.h = NewRouter(Deps{
		Auth:             svc,
		Apps:             apps,
		Store:            s.st,
		Metrics:          m,
		Gatherer:         reg,
		JWKS:             ks.JWKSJSON(),
		ReplicationToken: replToken,
	})
	return s
}

func (s *server) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "http-test")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	return rr
}

func (s *server) putApp(t *testing.T, id string, mode repository.VerificationMode) {
	t.Helper()
	rr := s.do(t, http.MethodPut, "/internal/replication/applications/"+id, ApplicationRequest{
		DomainName: id + ".example.com",
		BasicAuth: &repository.BasicAuthConfig{
			MinPasswordLength: 8, MaxPasswordLength: 128,
			StrictMode: true, MinUppercase: 1, MinLowercase: 1, MinDigits: 1,
		},
		Verification: repository.VerificationConfig{Mode: mode, RedirectURL: "https://" + id + ".example.com/cb"},
	}, "Authorization", "Bearer "+replToken)
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func errCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorBody](t, rr).Code
}

// ─── Flujos ───

func TestRegisterConfirmLoginRefreshLogout(t *testing.T) {
	s := newServer(t)
	s.putApp(t, "app-1", repository.VerificationCode)

	rr := s.do(t, http.MethodPost, "/v1/apps/app-1/register", RegisterRequest{Email: "a@example.com", Password: pass})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	reg := decode[RegisterResponse](t, rr)
	assert.NotEmpty(t, reg.UserID)
	assert.True(t, reg.VerificationRequired)
	assert.Equal(t, "code", reg.VerificationMode)
	require.NotEmpty(t, reg.VerificationToken)

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/register", RegisterRequest{Email: "a@example.com", Password: pass})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "DUPLICATE_EMAIL", errCode(t, rr))

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/login", LoginRequest{Email: "a@example.com", Password: pass})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "EMAIL_NOT_VERIFIED", errCode(t, rr))

	msg, ok := s.rec.Last("a@example.com")
	require.True(t, ok)
	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/email/confirm", ConfirmEmailRequest{Token: reg.VerificationToken, Code: msg.Code})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/email/confirm", ConfirmEmailRequest{Token: reg.VerificationToken, Code: msg.Code})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "TOKEN_ALREADY_CONSUMED", errCode(t, rr))

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/login", LoginRequest{Email: "a@example.com", Password: pass})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	login := decode[LoginResponse](t, rr)
	require.NotNil(t, login.TokenResponse)
	assert.False(t, login.TOTPRequired)
	assert.Equal(t, "Bearer", login.TokenType)
	assert.NotEmpty(t, login.AccessToken)
	assert.NotEmpty(t, login.RefreshToken)

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/token/refresh", RefreshRequest{RefreshToken: login.RefreshToken})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/logout", RefreshRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/token/refresh", RefreshRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "TOKEN_ALREADY_CONSUMED", errCode(t, rr))
}

func TestLogin_WrongPassword(t *testing.T) {
	s := newServer(t)
	s.putApp(t, "app-1", repository.VerificationNone)
	s.do(t, http.MethodPost, "/v1/apps/app-1/register", RegisterRequest{Email: "a@example.com", Password: pass})

	rr := s.do(t, http.MethodPost, "/v1/apps/app-1/login", LoginRequest{Email: "a@example.com", Password: "Wr0ngPassword"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errCode(t, rr))

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/login", LoginRequest{Email: "nobody@example.com", Password: pass})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errCode(t, rr))
}

func TestTOTPEnrollAndLogin(t *testing.T) {
	s := newServer(t)
	s.putApp(t, "app-1", repository.VerificationNone)
	s.putApp(t, "app-2", repository.VerificationNone)

	s.do(t, http.MethodPost, "/v1/apps/app-1/register", RegisterRequest{Email: "a@example.com", Password: pass})
	rr := s.do(t, http.MethodPost, "/v1/apps/app-1/login", LoginRequest{Email: "a@example.com", Password: pass})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	access := decode[LoginResponse](t, rr).AccessToken

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/totp/enroll", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))

	// un token de app-1 no sirve en el path de app-2
	rr = s.do(t, http.MethodPost, "/v1/apps/app-2/totp/enroll", nil, "Authorization", "Bearer "+access)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/totp/enroll", nil, "Authorization", "Bearer "+access)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	enr := decode[TOTPEnrollResponse](t, rr)
	assert.NotEmpty(t, enr.Secret)
	assert.True(t, strings.HasPrefix(enr.OTPAuthURL, "otpauth://totp/"))
	assert.Len(t, enr.BackupCodes, mfa.DefaultBackupCodes)

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/totp/enroll", nil, "Authorization", "Bearer "+access)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/login", LoginRequest{Email: "a@example.com", Password: pass})
	require.Equal(t, http.StatusOK, rr.Code)
	login := decode[LoginResponse](t, rr)
	require.True(t, login.TOTPRequired)
	assert.Nil(t, login.TokenResponse)
	require.NotEmpty(t, login.FlowToken)

	code, err := totp.GenerateCode(enr.Secret, s.now, 30)
	require.NoError(t, err)
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}
	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/login/totp", TOTPConfirmRequest{FlowToken: login.FlowToken, Code: wrong})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "INVALID_TOTP_CODE", errCode(t, rr))

	// el flow token sigue vivo tras un código incorrecto
	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/login/totp", TOTPConfirmRequest{FlowToken: login.FlowToken, Code: code})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEmpty(t, decode[TokenResponse](t, rr).AccessToken)

	rr = s.do(t, http.MethodGet, "/v1/apps/app-1/totp/backup-codes", nil, "Authorization", "Bearer "+access)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, mfa.DefaultBackupCodes, decode[BackupCodesResponse](t, rr).Remaining)

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/totp/disable", TOTPDisableRequest{Code: enr.BackupCodes[0]}, "Authorization", "Bearer "+access)
	assert.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
}

func TestPasswordReset(t *testing.T) {
	s := newServer(t)
	s.putApp(t, "app-1", repository.VerificationNone)
	s.do(t, http.MethodPost, "/v1/apps/app-1/register", RegisterRequest{Email: "a@example.com", Password: pass})

	rr := s.do(t, http.MethodPost, "/v1/apps/app-1/password/reset", EmailRequest{Email: "ghost@example.com"})
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 0, s.rec.Len())

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/password/reset", EmailRequest{Email: "a@example.com"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	msg, ok := s.rec.Last("a@example.com")
	require.True(t, ok)
	tok := msg.URL[strings.Index(msg.URL, "reset_token=")+len("reset_token="):]

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/password/reset/confirm", PasswordResetConfirmRequest{Token: tok, NewPassword: "weak"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "WEAK_PASSWORD", errCode(t, rr))

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/password/reset/confirm", PasswordResetConfirmRequest{Token: tok, NewPassword: "N3wPassword!"})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/login", LoginRequest{Email: "a@example.com", Password: "N3wPassword!"})
	assert.Equal(t, http.StatusOK, rr.Code)

	s.now = s.now.Add(2 * time.Hour)
	rr = s.do(t, http.MethodPost, "/v1/apps/app-1/password/reset/confirm", PasswordResetConfirmRequest{Token: tok, NewPassword: "An0therPass!"})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

// ─── Replicación ───

func TestReplication_AuthAndLifecycle(t *testing.T) {
	s := newServer(t)
	body := ApplicationRequest{Verification: repository.VerificationConfig{Mode: repository.VerificationNone}}

	rr := s.do(t, http.MethodPut, "/internal/replication/applications/app-9", body)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = s.do(t, http.MethodPut, "/internal/replication/applications/app-9", body, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	bad := ApplicationRequest{Verification: repository.VerificationConfig{Mode: "carrier-pigeon"}}
	rr = s.do(t, http.MethodPut, "/internal/replication/applications/app-9", bad, "Authorization", "Bearer "+replToken)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_CONFIG", errCode(t, rr))

	rr = s.do(t, http.MethodPut, "/internal/replication/applications/-bad-", body, "Authorization", "Bearer "+replToken)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPut, "/internal/replication/applications/app-9", body, "Authorization", "Bearer "+replToken)
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	app, err := s.st.Applications().Get(context.Background(), "app-9")
	require.NoError(t, err)
	assert.Equal(t, repository.DefaultBasicAuthConfig(), app.BasicAuth)

	rr = s.do(t, http.MethodPost, "/v1/apps/app-9/register", RegisterRequest{Email: "a@example.com", Password: "kR7#vQ2!mZp9@Lx4wT"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodDelete, "/internal/replication/applications/app-9", nil, "Authorization", "Bearer "+replToken)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = s.do(t, http.MethodDelete, "/internal/replication/applications/app-9", nil, "Authorization", "Bearer "+replToken)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodPost, "/v1/apps/app-9/login", LoginRequest{Email: "a@example.com", Password: "kR7#vQ2!mZp9@Lx4wT"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "APPLICATION_NOT_FOUND", errCode(t, rr))
}

// ─── Transporte ───

func TestReadJSON_Rejections(t *testing.T) {
	s := newServer(t)
	s.putApp(t, "app-1", repository.VerificationNone)

	req := httptest.NewRequest(http.MethodPost, "/v1/apps/app-1/login", strings.NewReader(`{"email":`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "BAD_REQUEST", errCode(t, rr))

	req = httptest.NewRequest(http.MethodPost, "/v1/apps/app-1/login", strings.NewReader(`email=a`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthMetricsAndJWKS(t *testing.T) {
	s := newServer(t)

	rr := s.do(t, http.MethodGet, "/readyz", nil, "X-Request-ID", "rid-123")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "rid-123", rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = s.do(t, http.MethodGet, "/.well-known/jwks.json", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"OKP"`)

	rr = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `http_requests_total{method="GET",path="/readyz",status="2xx"}`)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestReadyz_StoreDown(t *testing.T) {
	rr := httptest.NewRecorder()
	readyz(failingPinger{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestWithRecover(t *testing.T) {
	h := WithRequestID(WithRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode[errorBody](t, rr)
	assert.Equal(t, "INTERNAL", body.Code)
	assert.NotEmpty(t, body.RequestID)
	assert.NotContains(t, rr.Body.String(), "boom")
}

func TestWriteError_HidesCause(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: connection refused on 10.0.0.5"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "10.0.0.5")
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		apperrors.ErrWeakPassword:         http.StatusBadRequest,
		apperrors.ErrDuplicateEmail:       http.StatusConflict,
		apperrors.ErrTokenNotFound:        http.StatusNotFound,
		apperrors.ErrTokenExpired:         http.StatusGone,
		apperrors.ErrInvalidCredentials:   http.StatusUnauthorized,
		apperrors.ErrInternal:             http.StatusInternalServerError,
		apperrors.ErrTokenAlreadyConsumed: http.StatusConflict,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(apperrors.KindOf(err)), err.Error())
	}
}
