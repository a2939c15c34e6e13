package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)

	c, err := Decode(Encode(at, "user_abc123"))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, at.Equal(c.CreatedAt))
	assert.Equal(t, "user_abc123", c.ID)
}

func TestDecodeEmptyMeansFirstPage(t *testing.T) {
	c, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"not base64":    "!!!!",
		"no separator":  base64.RawURLEncoding.EncodeToString([]byte("nopipe")),
		"bad timestamp": base64.RawURLEncoding.EncodeToString([]byte("abc|user_1")),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(token)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

func TestComputePage(t *testing.T) {
	key := func(s string) (time.Time, string) {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), s
	}

	t.Run("under limit", func(t *testing.T) {
		page, next, more := ComputePage([]string{"a", "b"}, 3, key)
		assert.Len(t, page, 2)
		assert.Empty(t, next)
		assert.False(t, more)
	})

	t.Run("exactly limit", func(t *testing.T) {
		page, next, more := ComputePage([]string{"a", "b", "c"}, 3, key)
		assert.Len(t, page, 3)
		assert.Empty(t, next)
		assert.False(t, more)
	})

	t.Run("over limit trims and points at last kept row", func(t *testing.T) {
		page, next, more := ComputePage([]string{"a", "b", "c", "d"}, 3, key)
		assert.Len(t, page, 3)
		assert.True(t, more)

		c, err := Decode(next)
		require.NoError(t, err)
		assert.Equal(t, "c", c.ID)
	})
}
