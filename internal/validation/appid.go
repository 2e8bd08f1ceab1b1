package validation

import "regexp"

// Reglas de application_id:
// - Empieza y termina con [A-Za-z0-9].
// - En el medio se permite [A-Za-z0-9_.-].
// - Largo 1..64.
var applicationIDRe = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9_\.-]{0,62}[A-Za-z0-9])?$`)

// ValidApplicationID valida el id que empuja el servicio de configuración.
func ValidApplicationID(id string) bool {
	return applicationIDRe.MatchString(id)
}
