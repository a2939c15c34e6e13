package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("ten_")
	assert.Len(t, id, 4+24)
	assert.Regexp(t, `^ten_[0-9a-f]{24}$`, id)
}

func TestHexIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s := Hex(12)
		assert.Len(t, s, 24)
		assert.False(t, seen[s], "duplicate id %s", s)
		seen[s] = true
	}
}
