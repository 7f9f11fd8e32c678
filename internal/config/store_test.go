package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// memBackend - бэкенд в памяти, умеет падать на Save.
type memBackend struct {
	doc     map[string]any
	saves   int
	saveErr error
}

func (m *memBackend) Load(context.Context) (map[string]any, error) {
	if m.doc == nil {
		return nil, ErrDocumentMissing
	}
	return Clone(m.doc), nil
}

func (m *memBackend) Save(_ context.Context, doc map[string]any) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.doc = Clone(doc)
	return nil
}

func (m *memBackend) String() string { return "memory" }

func baseDoc() map[string]any {
	return map[string]any{
		"bot": map[string]any{"control_sign": "!", "rooms": []any{"!a:hs"}},
		"plugins": map[string]any{
			"rss": map[string]any{
				"count": map[string]any{"merged": 1, "single": 3},
				"feeds": []any{
					map[string]any{"id": "news", "published": 100},
				},
			},
		},
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("missing document is fatal", func(t *testing.T) {
		_, err := Load(ctx, &memBackend{}, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDocumentMissing)
	})

	t.Run("missing bot section is fatal", func(t *testing.T) {
		_, err := Load(ctx, &memBackend{doc: map[string]any{"plugins": map[string]any{}}}, nil)
		var mk *MissingKeyError
		require.ErrorAs(t, err, &mk)
		assert.Equal(t, "bot", mk.Key)
	})

	t.Run("empty bot section is fatal", func(t *testing.T) {
		_, err := Load(ctx, &memBackend{doc: map[string]any{"bot": nil}}, nil)
		assert.Error(t, err)
	})

	t.Run("valid document", func(t *testing.T) {
		s, err := Load(ctx, &memBackend{doc: baseDoc()}, nil)
		require.NoError(t, err)
		assert.Equal(t, "!", s.Section("bot")["control_sign"])
	})
}

func TestGetUnknownPluginIsEmpty(t *testing.T) {
	s := NewMemory(&memBackend{}, baseDoc())
	got := s.Get("nope")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemory(&memBackend{}, baseDoc())
	got := s.Get("rss")
	got["count"].(map[string]any)["merged"] = 99

	again := s.Get("rss")
	assert.Equal(t, 1, again["count"].(map[string]any)["merged"])
}

func TestSetThenGet(t *testing.T) {
	ctx := context.Background()
	backend := &memBackend{}
	s := NewMemory(backend, baseDoc())

	written := map[string]any{
		"count": map[string]any{"single": 5},
		"feeds": []any{
			map[string]any{"id": "news", "published": 200},
			map[string]any{"id": "blog", "published": 50},
		},
		"locale": "de_DE",
	}
	_, err := s.Set(ctx, "rss", written)
	require.NoError(t, err)

	want := map[string]any{
		// вложенная мапа слита по ключам
		"count": map[string]any{"merged": 1, "single": 5},
		// список заменён целиком
		"feeds": []any{
			map[string]any{"id": "news", "published": 200},
			map[string]any{"id": "blog", "published": 50},
		},
		"locale": "de_DE",
	}
	if diff := cmp.Diff(want, s.Get("rss")); diff != "" {
		t.Errorf("Get after Set mismatch (-want +got):\n%s", diff)
	}

	// документ записан целиком, соседние секции не тронуты
	assert.Equal(t, 1, backend.saves)
	assert.Equal(t, baseDoc()["bot"], backend.doc["bot"])
}

func TestSetCreatesPluginsSection(t *testing.T) {
	s := NewMemory(&memBackend{}, map[string]any{"bot": map[string]any{"control_sign": "!"}})
	_, err := s.Set(context.Background(), "echo", map[string]any{"x": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": true}, s.Get("echo"))
}

func TestSetPersistenceFailureKeepsDocument(t *testing.T) {
	backend := &memBackend{saveErr: errors.New("disk full")}
	s := NewMemory(backend, baseDoc())

	_, err := s.Set(context.Background(), "rss", map[string]any{"count": map[string]any{"merged": 7}})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "disk full")

	// в памяти ничего не поменялось
	assert.Equal(t, 1, s.Get("rss")["count"].(map[string]any)["merged"])
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			backend, err := Open(path)
			require.NoError(t, err)

			_, err = backend.Load(ctx)
			assert.ErrorIs(t, err, ErrDocumentMissing)

			require.NoError(t, backend.Save(ctx, baseDoc()))

			doc, err := backend.Load(ctx)
			require.NoError(t, err)
			feeds := doc["plugins"].(map[string]any)["rss"].(map[string]any)["feeds"].([]any)
			require.Len(t, feeds, 1)
			assert.Equal(t, "news", feeds[0].(map[string]any)["id"])
			assert.Equal(t, []any{"!a:hs"}, doc["bot"].(map[string]any)["rooms"])

			// временных файлов не остаётся
			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			for _, e := range entries {
				assert.NotContains(t, e.Name(), "."+name+".")
			}
		})
	}
}

func TestFileBackendSetSurvivesReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`bot:
  control_sign: "!"
  rooms: ["!a:hs"]
plugins:
  bulletin:
    url: https://example.org/feed
    published: 0
`), 0o644))

	backend, err := Open(path)
	require.NoError(t, err)
	s, err := Load(ctx, backend, nil)
	require.NoError(t, err)

	_, err = s.Set(ctx, "bulletin", map[string]any{"published": 1700000000})
	require.NoError(t, err)

	reloaded, err := Load(ctx, backend, nil)
	require.NoError(t, err)
	got := reloaded.Get("bulletin")
	assert.Equal(t, 1700000000, got["published"])
	assert.Equal(t, "https://example.org/feed", got["url"])
}

func TestOpenRejectsUnknownFormat(t *testing.T) {
	_, err := Open("config.json")
	assert.Error(t, err)
	_, err = Open("")
	assert.Error(t, err)
}
