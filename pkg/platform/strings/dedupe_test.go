package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendUnique(t *testing.T) {
	seen := make(map[string]struct{})
	var out []string

	out = AppendUnique(out, seen, "a@x.com")
	out = AppendUnique(out, seen, "b@x.com")
	out = AppendUnique(out, seen, "a@x.com")
	out = AppendUnique(out, seen, "")

	assert.Equal(t, []string{"a@x.com", "b@x.com"}, out)
}

func TestDedupe(t *testing.T) {
	t.Run("preserves first-appearance order", func(t *testing.T) {
		got := Dedupe([]string{"111", "222", "111", "333", "222"})
		assert.Equal(t, []string{"111", "222", "333"}, got)
	})

	t.Run("drops empty strings", func(t *testing.T) {
		got := Dedupe([]string{"", "111", ""})
		assert.Equal(t, []string{"111"}, got)
	})

	t.Run("empty input returned as-is", func(t *testing.T) {
		assert.Empty(t, Dedupe(nil))
	})
}
