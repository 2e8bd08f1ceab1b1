// Package tokens genera los valores de UserToken y los hashes que se
// persisten. El valor en claro solo existe en memoria y en el mensaje al
// usuario; la DB guarda Hash(valor).
package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
)

// ValueBytes: 256 bits por valor opaco.
const ValueBytes = 32

// NewValue devuelve un valor opaco base64url sin padding (43 chars).
func NewValue() (string, error) {
	b := make([]byte, ValueBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("tokens: rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewNumericCode devuelve un código de n dígitos (con ceros a la izquierda)
// para verificación por código.
func NewNumericCode(digits int) (string, error) {
	if digits < 4 || digits > 12 {
		return "", fmt.Errorf("tokens: invalid code length %d", digits)
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("tokens: rand: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// Hash es sha256 en base64url. Sirve para token_hash, code_hash y backup codes.
func Hash(v string) string {
	sum := sha256.Sum256([]byte(v))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Matches compara Hash(v) contra un hash guardado en tiempo constante.
// Un hash guardado vacío nunca matchea.
func Matches(stored, v string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(Hash(v))) == 1
}
