package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"simple", "alice", false},
		{"digits and separators", "bob_99.x-y", false},
		{"max length", strings.Repeat("a", MaxUsernameLength), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), true},
		{"inner space", "al ice", true},
		{"leading dot", ".alice", true},
		{"symbols", "alice!", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePhone(t *testing.T) {
	for _, ok := range []string{"", "+1 (555) 010-4477", "5550104477", "020 7946 0958"} {
		assert.NoError(t, ValidatePhone(ok), ok)
	}
	for _, bad := range []string{"12", "call me", "+", "555-0104-", strings.Repeat("1", 33)} {
		assert.Error(t, ValidatePhone(bad), bad)
	}
}
