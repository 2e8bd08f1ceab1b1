package jwt

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	ks, err := NewDevKeySet()
	require.NoError(t, err)
	return NewIssuer("https://auth.example.com", ks, time.Minute)
}

func TestIssueVerify(t *testing.T) {
	iss := newTestIssuer(t)

	tok, exp, err := iss.IssueAccess("app-1", "user-1", "sess-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	c, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", c.Subject)
	assert.Equal(t, "app-1", c.ApplicationID)
	assert.Equal(t, "sess-1", c.SessionID)
}

func TestVerify_Expired(t *testing.T) {
	iss := newTestIssuer(t)
	now := time.Now()
	iss.Now = func() time.Time { return now }

	tok, _, err := iss.IssueAccess("app-1", "user-1", "sess-1")
	require.NoError(t, err)

	iss.Now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = iss.Verify(tok)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerify_OtherKeyOrIssuer(t *testing.T) {
	a := newTestIssuer(t)
	b := newTestIssuer(t)

	tok, _, err := a.IssueAccess("app-1", "user-1", "s")
	require.NoError(t, err)

	_, err = b.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewIssuer("https://other.example.com", a.Keys, time.Minute)
	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRetiredKeyStillVerifies(t *testing.T) {
	old := newTestIssuer(t)
	tok, _, err := old.IssueAccess("app-1", "user-1", "s")
	require.NoError(t, err)

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	rotated, err := NewKeySet(priv, old.Keys.active.Pub)
	require.NoError(t, err)

	c, err := NewIssuer(old.Iss, rotated, time.Minute).Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", c.Subject)
}

func TestParseSeedAndJWKS(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	priv, err := ParseSeed(base64.StdEncoding.EncodeToString(seed))
	require.NoError(t, err)

	ks, err := NewKeySet(priv)
	require.NoError(t, err)

	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(ks.JWKSJSON(), &doc))
	require.Len(t, doc.Keys, 1)
	assert.Equal(t, ks.ActiveKID(), doc.Keys[0]["kid"])
	assert.Equal(t, "EdDSA", doc.Keys[0]["alg"])

	_, err = ParseSeed("short")
	assert.Error(t, err)
}
