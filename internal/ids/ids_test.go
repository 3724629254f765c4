package ids

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageIDsIncrease(t *testing.T) {
	require.NoError(t, Init(1))
	prev := MessageID()
	for i := 0; i < 1000; i++ {
		next := MessageID()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9A-F]{8}$`)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		c := Code()
		assert.Regexp(t, pattern, c)
		seen[c] = true
	}
	assert.Greater(t, len(seen), 95)
	assert.NotEqual(t, New(), New())
}
