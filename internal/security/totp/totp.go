// Package totp envuelve pquerna/otp (RFC 6238) y genera backup codes.
package totp

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// DefaultSkew acepta un step antes y uno después del actual.
const DefaultSkew = 1

// Key es un secreto recién generado.
type Key struct {
	Secret string // base32 sin padding
	URL    string // otpauth://totp/...
}

// GenerateSecret genera un secreto de 20 bytes y su URL de provisión para QR.
func GenerateSecret(issuer, accountName string, period uint) (*Key, error) {
	if period == 0 {
		period = 30
	}
	k, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      period,
		SecretSize:  20,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("totp generate: %w", err)
	}
	return &Key{Secret: k.Secret(), URL: k.URL()}, nil
}

// GenerateCode calcula el código vigente en t.
func GenerateCode(secret string, t time.Time, period uint) (string, error) {
	return totp.GenerateCodeCustom(secret, t, opts(period))
}

// Verify busca code en la ventana t ± skew steps y devuelve el step que
// matcheó. El caller guarda ese step para evitar replays.
func Verify(secret, code string, t time.Time, period uint, skew int) (ok bool, step int64) {
	code = strings.TrimSpace(code)
	if len(code) != int(otp.DigitsSix) {
		return false, 0
	}
	if period == 0 {
		period = 30
	}
	for d := -skew; d <= skew; d++ {
		at := t.Add(time.Duration(d) * time.Duration(period) * time.Second)
		want, err := totp.GenerateCodeCustom(secret, at, opts(period))
		if err != nil {
			return false, 0
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true, at.Unix() / int64(period)
		}
	}
	return false, 0
}

func opts(period uint) totp.ValidateOpts {
	if period == 0 {
		period = 30
	}
	return totp.ValidateOpts{
		Period:    period,
		Skew:      0,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// ─── Backup codes ───

const backupAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

var ErrBadCount = errors.New("backup code count must be positive")

// GenerateBackupCodes devuelve n códigos con forma xxxxx-xxxxx.
func GenerateBackupCodes(n int) ([]string, error) {
	if n <= 0 {
		return nil, ErrBadCount
	}
	out := make([]string, n)
	for i := range out {
		code := make([]byte, 11)
		for j := range code {
			if j == 5 {
				code[j] = '-'
				continue
			}
			c, err := backupChar(rand.Reader)
			if err != nil {
				return nil, err
			}
			code[j] = c
		}
		out[i] = string(code)
	}
	return out, nil
}

// backupChar elige un caracter del alfabeto sin sesgo: los bytes por encima
// del último múltiplo de len(backupAlphabet) se descartan.
func backupChar(r io.Reader) (byte, error) {
	limit := 256 - 256%len(backupAlphabet)
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		if int(b[0]) < limit {
			return backupAlphabet[int(b[0])%len(backupAlphabet)], nil
		}
	}
}

// IsBackupCode: los códigos TOTP son solo dígitos, los backup llevan guión.
func IsBackupCode(s string) bool {
	return strings.Contains(s, "-")
}

// NormalizeBackupCode deja el código en la forma en que se hashea.
func NormalizeBackupCode(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
