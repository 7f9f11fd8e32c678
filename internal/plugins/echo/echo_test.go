package echo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/roombot/internal/capability"
)

func TestEcho(t *testing.T) {
	c, err := New(capability.Env{})
	require.NoError(t, err)
	require.Len(t, c.Keywords(), 1)
	kw := c.Keywords()[0]
	assert.Equal(t, "echo", kw.Name)
	assert.Empty(t, kw.Rooms)

	hello := "hello"
	for _, room := range []string{"!a:hs", "!b:hs"} {
		out, err := kw.Handler(context.Background(), &hello, room)
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	}

	out, err := kw.Handler(context.Background(), nil, "!a:hs")
	require.NoError(t, err)
	assert.Equal(t, Fallback, out)
}
