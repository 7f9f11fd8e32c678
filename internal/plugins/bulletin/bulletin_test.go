package bulletin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EgorLis/roombot/internal/capability"
	"github.com/EgorLis/roombot/internal/chat/chattest"
	"github.com/EgorLis/roombot/internal/config"
	"github.com/EgorLis/roombot/internal/fetch"
	"github.com/EgorLis/roombot/internal/scheduler"
)

type memBackend struct{ saveErr error }

func (m *memBackend) Load(context.Context) (map[string]any, error) { return nil, config.ErrDocumentMissing }
func (m *memBackend) Save(context.Context, map[string]any) error  { return m.saveErr }
func (m *memBackend) String() string                                { return "memory" }

type fakeScheduler struct{ spec string }

func (f *fakeScheduler) Add(_, spec string, _ scheduler.Job) error {
	f.spec = spec
	return nil
}

const feedXML = `<?xml version="1.0"?><rss version="2.0"><channel><title>Amtsblatt</title>
<item><title>Amtsblatt 12/2024</title><link>https://example.org/amtsblatt-12.pdf</link><pubDate>Fri, 07 Jun 2024 08:00:00 +0000</pubDate></item>
<item><title>Amtsblatt 11/2024</title><link>https://example.org/amtsblatt-11.pdf</link><pubDate>Fri, 24 May 2024 08:00:00 +0000</pubDate></item>
</channel></rss>`

var issue12 = time.Date(2024, 6, 7, 8, 0, 0, 0, time.UTC).Unix()

type fixture struct {
	up      atomic.Bool
	srv     *httptest.Server
	rec     *chattest.Recorder
	backend *memBackend
	store   *config.Store
	sched   *fakeScheduler
}

func newFixture(t *testing.T, plugin map[string]any) (*fixture, *Plugin) {
	f := &fixture{rec: chattest.New(), backend: &memBackend{}, sched: &fakeScheduler{}}
	f.up.Store(true)
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.up.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(feedXML))
	}))
	t.Cleanup(f.srv.Close)

	plugin["url"] = f.srv.URL
	f.store = config.NewMemory(f.backend, map[string]any{"plugins": map[string]any{Name: plugin}})
	c, err := New(capability.Env{
		Client:      f.rec,
		Config:      f.store,
		Scheduler:   f.sched,
		Fetcher:     fetch.New(time.Second, nil),
		Logger:      zaptest.NewLogger(t),
		GlobalRooms: []string{"!global:hs"},
	})
	require.NoError(t, err)
	return f, c.(*Plugin)
}

func TestStartAnnouncesToGlobalRooms(t *testing.T) {
	f, p := newFixture(t, map[string]any{})
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, Schedule, f.sched.spec)

	sent := f.rec.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "!global:hs", sent[0].RoomID)
	assert.True(t, sent[0].Notice)
	assert.Equal(t, "Neu veröffentlicht: Amtsblatt 12/2024\nhttps://example.org/amtsblatt-12.pdf", sent[0].Body)
	assert.Equal(t, int(issue12), f.store.Get(Name)["published"])

	require.NoError(t, p.update(context.Background()))
	assert.Len(t, f.rec.Sent(), 1)
}

func TestAnnounceToPluginRoomsWithPrefix(t *testing.T) {
	f, p := newFixture(t, map[string]any{"rooms": []any{"!city:hs"}, "prefix": "New issue"})
	require.NoError(t, p.update(context.Background()))

	sent := f.rec.SentTo("!city:hs")
	require.Len(t, sent, 1)
	assert.Equal(t, "New issue: Amtsblatt 12/2024\nhttps://example.org/amtsblatt-12.pdf", sent[0].Body)
	assert.Empty(t, f.rec.SentTo("!global:hs"))
}

func TestQuery(t *testing.T) {
	f, p := newFixture(t, map[string]any{"published": issue12})
	h := p.Keywords()[0].Handler
	ctx := context.Background()

	out, err := h(ctx, nil, "!a:hs")
	require.NoError(t, err)
	assert.Equal(t, msgNoFeed, out)

	require.NoError(t, p.update(ctx))
	assert.Empty(t, f.rec.Sent())
	out, _ = h(ctx, nil, "!a:hs")
	assert.Equal(t, "https://example.org/amtsblatt-12.pdf", out)

	f.up.Store(false)
	require.NoError(t, p.update(ctx))
	out, _ = h(ctx, nil, "!a:hs")
	assert.Equal(t, msgNoFeed, out)
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	f, p := newFixture(t, map[string]any{})
	f.backend.saveErr = errors.New("disk full")

	err := p.update(context.Background())
	var perr *config.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, int64(0), p.settings.Published)
}
