package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EgorLis/roombot/internal/capability"
	"github.com/EgorLis/roombot/internal/chat/chattest"
	"github.com/EgorLis/roombot/internal/config"
)

type nopBackend struct{}

func (nopBackend) Load(context.Context) (map[string]any, error) { return nil, config.ErrDocumentMissing }
func (nopBackend) Save(context.Context, map[string]any) error  { return nil }
func (nopBackend) String() string                                { return "nop" }

func TestNamesInRegistrationOrder(t *testing.T) {
	names := Names()
	assert.Equal(t, []string{"echo", "clock", "status", "rss", "dates", "bulletin", "mowas"}, names)
}

// Без конфигурации поднимаются только плагины без обязательных ключей,
// остальные исключаются, не ломая сборку реестра.
func TestBuildWithEmptyConfig(t *testing.T) {
	env := capability.Env{
		Client: chattest.New("!a:hs"),
		Config: config.NewMemory(nopBackend{}, map[string]any{"bot": map[string]any{}}),
		Logger: zaptest.NewLogger(t),
	}
	reg, err := capability.Build(context.Background(), env, All(), capability.Options{SkipStart: true})
	require.NoError(t, err)

	var got []string
	for _, c := range reg.Capabilities() {
		got = append(got, c.Name())
	}
	assert.ElementsMatch(t, []string{"echo", "clock"}, got)

	_, err = reg.Resolve("now", "!a:hs")
	assert.NoError(t, err)
}
