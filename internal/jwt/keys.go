package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// KeySet tiene una clave activa (firma) y claves viejas que solo verifican.
type KeySet struct {
	active   signingKey
	verifier map[string]ed25519.PublicKey
}

type signingKey struct {
	KID  string
	Priv ed25519.PrivateKey
	Pub  ed25519.PublicKey
}

// KIDFor deriva el kid del hash de la pública (estable entre reinicios).
func KIDFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

// NewKeySet arma un KeySet a partir de la privada activa y pubkeys retiradas.
func NewKeySet(active ed25519.PrivateKey, retired ...ed25519.PublicKey) (*KeySet, error) {
	if len(active) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("jwt: invalid ed25519 private key size %d", len(active))
	}
	pub := active.Public().(ed25519.PublicKey)
	ks := &KeySet{
		active:   signingKey{KID: KIDFor(pub), Priv: active, Pub: pub},
		verifier: map[string]ed25519.PublicKey{},
	}
	ks.verifier[ks.active.KID] = pub
	for _, r := range retired {
		ks.verifier[KIDFor(r)] = r
	}
	return ks, nil
}

// NewDevKeySet genera una clave efímera (dev/tests).
func NewDevKeySet() (*KeySet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewKeySet(priv)
}

// ParseSeed acepta la seed Ed25519 (32 bytes) en base64 std/url.
func ParseSeed(s string) (ed25519.PrivateKey, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == ed25519.SeedSize {
			return ed25519.NewKeyFromSeed(b), nil
		}
	}
	return nil, fmt.Errorf("jwt: signing key must be a base64 %d-byte ed25519 seed", ed25519.SeedSize)
}

// ActiveKID devuelve el kid con el que se firma.
func (k *KeySet) ActiveKID() string { return k.active.KID }

// PublicKey busca por kid entre la activa y las retiradas.
func (k *KeySet) PublicKey(kid string) (ed25519.PublicKey, bool) {
	pub, ok := k.verifier[kid]
	return pub, ok
}

// ----- JWKS (serialización) -----

type jwk struct {
	Kty string `json:"kty"` // "OKP"
	Crv string `json:"crv"` // "Ed25519"
	Kid string `json:"kid"`
	Alg string `json:"alg"` // "EdDSA"
	Use string `json:"use"` // "sig"
	X   string `json:"x"`   // base64url(pub)
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// JWKSJSON devuelve el JWKS (solo públicas) en JSON.
func (k *KeySet) JWKSJSON() []byte {
	out := jwks{Keys: make([]jwk, 0, len(k.verifier))}
	// la activa primero
	out.Keys = append(out.Keys, toJWK(k.active.KID, k.active.Pub))
	for kid, pub := range k.verifier {
		if kid == k.active.KID {
			continue
		}
		out.Keys = append(out.Keys, toJWK(kid, pub))
	}
	b, _ := json.Marshal(out)
	return b
}

func toJWK(kid string, pub ed25519.PublicKey) jwk {
	return jwk{
		Kty: "OKP",
		Crv: "Ed25519",
		Kid: kid,
		Alg: "EdDSA",
		Use: "sig",
		X:   base64.RawURLEncoding.EncodeToString(pub),
	}
}
