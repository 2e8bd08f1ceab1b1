// Package jwt emite y verifica access tokens (EdDSA). Los access tokens no se
// persisten: se validan solo por firma, issuer y expiración.
package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid_jwt")
	ErrExpired       = errors.New("expired")
	ErrUnknownKID    = errors.New("unknown_kid")
	ErrMissingClaims = errors.New("missing_claims")
)

// AccessClaims son las claims de un access token.
// SessionID es el id de la fila REFRESH que respalda la sesión.
type AccessClaims struct {
	ApplicationID string `json:"app"`
	SessionID     string `json:"sid"`
	jwtv5.RegisteredClaims
}

// Issuer firma access tokens con la clave activa del KeySet.
type Issuer struct {
	Iss       string
	Keys      *KeySet
	AccessTTL time.Duration
	// Now es inyectable para tests.
	Now func() time.Time
}

func NewIssuer(iss string, ks *KeySet, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Issuer{Iss: iss, Keys: ks, AccessTTL: ttl, Now: time.Now}
}

func (i *Issuer) now() time.Time {
	if i.Now == nil {
		return time.Now()
	}
	return i.Now()
}

// IssueAccess firma un access token para userID dentro de applicationID.
func (i *Issuer) IssueAccess(applicationID, userID, sessionID string) (string, time.Time, error) {
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.AccessTTL)

	claims := AccessClaims{
		ApplicationID: applicationID,
		SessionID:     sessionID,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    i.Iss,
			Subject:   userID,
			Audience:  jwtv5.ClaimStrings{applicationID},
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
		},
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = i.Keys.ActiveKID()
	tk.Header["typ"] = "JWT"

	signed, err := tk.SignedString(i.Keys.active.Priv)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, exp, nil
}

// Verify chequea firma (por kid), iss y exp. No toca storage.
func (i *Issuer) Verify(token string) (*AccessClaims, error) {
	keyfunc := func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := i.Keys.PublicKey(kid)
		if !ok {
			return nil, ErrUnknownKID
		}
		return pub, nil
	}

	claims := &AccessClaims{}
	_, err := jwtv5.ParseWithClaims(token, claims, keyfunc,
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodEdDSA.Alg()}),
		jwtv5.WithIssuer(i.Iss),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ApplicationID == "" {
		return nil, ErrMissingClaims
	}
	return claims, nil
}
