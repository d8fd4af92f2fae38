package requestid

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestGenerateRequestID(t *testing.T) {
	tests := []struct {
		name     string
		customID string
		pattern  string
	}{
		{name: "alphanumeric", customID: "kitchen-display", pattern: `^[a-f0-9]{5}-kitchen-display$`},
		{name: "special characters dropped", customID: "dev@ice#12!", pattern: `^[a-f0-9]{5}-device12$`},
		{name: "spaces become hyphens", customID: "e ink  frame", pattern: `^[a-f0-9]{5}-e-ink-frame$`},
		{name: "edge hyphens trimmed", customID: "--frame--", pattern: `^[a-f0-9]{5}-frame$`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRequestID(tt.customID)
			assert.Regexp(t, regexp.MustCompile(tt.pattern), got)
			assert.LessOrEqual(t, len(got), MaxLength)
		})
	}
}

func TestGenerateRequestID_FallsBackToUUID(t *testing.T) {
	for _, in := range []string{"", "!!!", "   "} {
		_, err := uuid.Parse(GenerateRequestID(in))
		assert.NoError(t, err, "input %q", in)
	}
}

func TestGenerateRequestID_Truncates(t *testing.T) {
	got := GenerateRequestID("abcdefghijklmnopqrstuvwxyz0123456789abcdefghij")
	assert.Len(t, got, MaxLength)
}

func TestGenerateRequestID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := GenerateRequestID("frame")
		assert.False(t, seen[id])
		seen[id] = true
	}
}
