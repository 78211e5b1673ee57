// Package requestid produces the correlation IDs attached to every
// render request and carried through logs and error responses.
package requestid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Generated IDs never exceed UUID length so downstream log tooling can
// treat the field as fixed-width.
const maxLength = 36

var invalidChars = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// Generate returns a request ID. A caller-supplied ID is sanitized to
// [a-zA-Z0-9-] and suffixed with a short random token so two clients
// sending the same ID still produce distinct log trails. Without a
// usable custom ID the result is a plain UUID.
func Generate(customID string) string {
	sanitized := invalidChars.ReplaceAllString(strings.ReplaceAll(customID, " ", "-"), "")
	sanitized = strings.Trim(sanitized, "-")
	if sanitized == "" {
		return uuid.New().String()
	}

	token := uuid.New().String()[:8]
	maxCustom := maxLength - len(token) - 1
	if len(sanitized) > maxCustom {
		sanitized = sanitized[:maxCustom]
	}
	return sanitized + "-" + token
}
