package password

import (
	"unicode"
	"unicode/utf8"

	"github.com/nbutton23/zxcvbn-go"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
)

// Códigos de rechazo. Son estables: el transporte los expone tal cual.
const (
	ReasonEmpty          = "empty"
	ReasonTooShort       = "too_short"
	ReasonTooLong        = "too_long"
	ReasonMissingUpper   = "missing_upper"
	ReasonMissingLower   = "missing_lower"
	ReasonMissingDigit   = "missing_digit"
	ReasonMissingSymbol  = "missing_symbol"
	ReasonTooWeak        = "too_weak"
	ReasonCommonPassword = "common_password"
)

// PolicyResult es el resultado de evaluar un password contra una BasicAuthConfig.
type PolicyResult struct {
	OK      bool
	Reasons []string
	// Score zxcvbn (0..4); -1 si no se evaluó.
	Score int
}

// Evaluate es una función pura: no loguea ni guarda nada.
// userInputs (email, nombre) penalizan el score de zxcvbn.
func Evaluate(plain string, cfg repository.BasicAuthConfig, userInputs []string) PolicyResult {
	res := PolicyResult{Score: -1}
	n := utf8.RuneCountInString(plain)

	// Vacío nunca pasa, aunque la config tenga mínimo 0.
	if n == 0 {
		res.Reasons = append(res.Reasons, ReasonEmpty)
	}
	if n < cfg.MinPasswordLength {
		res.Reasons = append(res.Reasons, ReasonTooShort)
	}
	tooLong := cfg.MaxPasswordLength > 0 && n > cfg.MaxPasswordLength
	if tooLong {
		res.Reasons = append(res.Reasons, ReasonTooLong)
	}

	if cfg.StrictMode {
		var up, low, dig, sym int
		for _, r := range plain {
			switch {
			case unicode.IsUpper(r):
				up++
			case unicode.IsLower(r):
				low++
			case unicode.IsDigit(r):
				dig++
			case unicode.IsPunct(r) || unicode.IsSymbol(r):
				sym++
			}
		}
		if up < cfg.MinUppercase {
			res.Reasons = append(res.Reasons, ReasonMissingUpper)
		}
		if low < cfg.MinLowercase {
			res.Reasons = append(res.Reasons, ReasonMissingLower)
		}
		if dig < cfg.MinDigits {
			res.Reasons = append(res.Reasons, ReasonMissingDigit)
		}
		if sym < cfg.MinSymbols {
			res.Reasons = append(res.Reasons, ReasonMissingSymbol)
		}
	}

	// zxcvbn es caro en inputs largos; un password ya rechazado por largo no se puntúa.
	if cfg.CheckStrength && !tooLong && plain != "" {
		res.Score = zxcvbn.PasswordStrength(plain, userInputs).Score
		if res.Score < cfg.MinStrengthScore {
			res.Reasons = append(res.Reasons, ReasonTooWeak)
		}
	}

	res.OK = len(res.Reasons) == 0
	return res
}
