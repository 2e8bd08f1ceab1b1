package mfa

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/authcore/internal/apperrors"
	"github.com/dropDatabas3/authcore/internal/domain/repository"
	"github.com/dropDatabas3/authcore/internal/security/secretbox"
	"github.com/dropDatabas3/authcore/internal/security/totp"
	"github.com/dropDatabas3/authcore/internal/store/adapters/memory"
	"github.com/dropDatabas3/authcore/internal/token"
)

type fixture struct {
	st   *memory.Store
	svc  *Service
	eng  *token.Engine
	user *repository.User
	now  time.Time
}

func newFixture(t *testing.T, box *secretbox.Box) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.Applications().Upsert(ctx, &repository.Application{
		ID:           "app-1",
		BasicAuth:    repository.DefaultBasicAuthConfig(),
		Verification: repository.VerificationConfig{Mode: repository.VerificationNone},
	}))
	u := &repository.User{ApplicationID: "app-1", PasswordEnabled: true}
	require.NoError(t, st.Users().Create(ctx, u))

	f := &fixture{st: st, user: u, now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	f.eng = token.NewEngine(st, token.TTLs{}, nil)
	f.eng.SetClock(func() time.Time { return f.now })
	f.svc = NewService(st, f.eng, box, Config{Issuer: "test"})
	return f
}

func (f *fixture) code(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	c, err := totp.GenerateCode(secret, at, 30)
	require.NoError(t, err)
	return c
}

func TestEnroll_ThenAlreadyEnrolled(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	enr, err := f.svc.Enroll(ctx, f.user, "a@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, enr.Secret)
	assert.Contains(t, enr.URL, "otpauth://totp/")
	assert.Len(t, enr.BackupCodes, DefaultBackupCodes)

	u, err := f.st.Users().GetByID(ctx, "app-1", f.user.ID)
	require.NoError(t, err)
	assert.True(t, u.TOTPEnabled)

	_, err = f.svc.Enroll(ctx, f.user, "a@example.com")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyEnrolled)

	n, err := f.svc.Remaining(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultBackupCodes, n)
}

func TestVerifyCode_WindowAndReplay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	enr, err := f.svc.Enroll(ctx, f.user, "a@example.com")
	require.NoError(t, err)

	// un step antes del actual todavía entra
	prev := f.code(t, enr.Secret, f.now.Add(-30*time.Second))
	ok, err := f.svc.VerifyCode(ctx, f.user.ID, prev)
	require.NoError(t, err)
	assert.True(t, ok)

	cur := f.code(t, enr.Secret, f.now)
	ok, err = f.svc.VerifyCode(ctx, f.user.ID, cur)
	require.NoError(t, err)
	assert.True(t, ok)

	// replay del mismo step
	ok, err = f.svc.VerifyCode(ctx, f.user.ID, cur)
	require.NoError(t, err)
	assert.False(t, ok)

	// fuera de ventana
	old := f.code(t, enr.Secret, f.now.Add(-5*time.Minute))
	ok, err = f.svc.VerifyCode(ctx, f.user.ID, old)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyCode_BackupCodeSingleUse(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	enr, err := f.svc.Enroll(ctx, f.user, "a@example.com")
	require.NoError(t, err)

	bc := enr.BackupCodes[3]
	ok, err := f.svc.VerifyCode(ctx, f.user.ID, "  "+bc+" ")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.VerifyCode(ctx, f.user.ID, bc)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.VerifyCode(ctx, f.user.ID, "zzzzz-zzzzz")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := f.svc.Remaining(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultBackupCodes-1, n)
}

func TestVerifyCode_SealedSecret(t *testing.T) {
	box, err := secretbox.New(make([]byte, 32))
	require.NoError(t, err)
	f := newFixture(t, box)
	ctx := context.Background()

	enr, err := f.svc.Enroll(ctx, f.user, "a@example.com")
	require.NoError(t, err)

	stored, err := f.st.TOTP().GetByUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, enr.Secret, stored.Secret)

	ok, err := f.svc.VerifyCode(ctx, f.user.ID, f.code(t, enr.Secret, f.now))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChallenge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Challenge(ctx, f.user, "", "")
	assert.ErrorIs(t, err, apperrors.ErrNotEnrolled)

	_, err = f.svc.Enroll(ctx, f.user, "a@example.com")
	require.NoError(t, err)
	u, err := f.st.Users().GetByID(ctx, "app-1", f.user.ID)
	require.NoError(t, err)

	flow, err := f.svc.Challenge(ctx, u, "1.1.1.1", "ua")
	require.NoError(t, err)
	assert.Equal(t, repository.TokenTOTPFlow, flow.Token.Kind)
	assert.Equal(t, f.now.Add(5*time.Minute), flow.Token.ExpiresAt)
}

func TestDisable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Disable(ctx, f.user.ID), apperrors.ErrNotEnrolled)

	enr, err := f.svc.Enroll(ctx, f.user, "a@example.com")
	require.NoError(t, err)
	require.NoError(t, f.svc.Disable(ctx, f.user.ID))

	u, err := f.st.Users().GetByID(ctx, "app-1", f.user.ID)
	require.NoError(t, err)
	assert.False(t, u.TOTPEnabled)

	_, err = f.svc.VerifyCode(ctx, f.user.ID, enr.BackupCodes[0])
	assert.ErrorIs(t, err, apperrors.ErrNotEnrolled)

	// se puede volver a enrolar con un secreto nuevo
	again, err := f.svc.Enroll(ctx, f.user, "a@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, enr.Secret, again.Secret)
}
