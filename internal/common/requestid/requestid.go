package requestid

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxLength matches the length of a canonical UUID.
	MaxLength = 36
	// PrefixLength is the random part prepended to caller supplied ids.
	PrefixLength = 5
)

// GenerateRequestID returns a fresh UUID when customID is empty, otherwise
// "<5 random hex>-<sanitized customID>" capped at MaxLength. Sanitizing keeps
// [a-zA-Z0-9-], turns spaces into hyphens and collapses hyphen runs.
func GenerateRequestID(customID string) string {
	sanitized := sanitize(customID)
	if sanitized == "" {
		return uuid.NewString()
	}

	if max := MaxLength - PrefixLength - 1; len(sanitized) > max {
		sanitized = strings.TrimSuffix(sanitized[:max], "-")
	}

	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")[:PrefixLength]
	return prefix + "-" + sanitized
}

func sanitize(id string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == '-' || r == ' ':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
