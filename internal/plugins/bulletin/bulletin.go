// Package bulletin следит за лентой официальных публикаций (например,
// городского вестника): !bulletin отдаёт ссылку на последний выпуск, а
// каждый новый выпуск объявляется в комнатах.
package bulletin

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/EgorLis/roombot/internal/capability"
	"github.com/EgorLis/roombot/internal/chat"
)

const Name = "bulletin"

// Schedule - раз в четыре часа.
const Schedule = "0 */4 * * *"

const msgNoFeed = "No valid RSS feed available. Please try again later"

type settings struct {
	URL       string   `yaml:"url"`
	Rooms     []string `yaml:"rooms,omitempty"`
	Published int64    `yaml:"published"`
	Prefix    string   `yaml:"prefix"`
}

var defaults = map[string]any{
	"published": 0,
	"prefix":    "Neu veröffentlicht",
}

type latest struct {
	title     string
	link      string
	published int64
}

type Plugin struct {
	capability.Base
	parser *gofeed.Parser

	tick sync.Mutex

	mu       sync.Mutex
	settings settings
	latest   *latest // nil - лента недоступна
}

func New(env capability.Env) (capability.Capability, error) {
	p := &Plugin{Base: capability.NewBase(Name, env), parser: gofeed.NewParser()}
	if err := p.LoadConfig(defaults, &p.settings, "url"); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plugin) Keywords() []capability.Keyword {
	return []capability.Keyword{{
		Name:        "bulletin",
		Description: "Link to the latest published bulletin",
		Handler:     p.bulletin,
	}}
}

func (p *Plugin) Start(ctx context.Context) error {
	if err := p.update(ctx); err != nil {
		p.Log().Error("Initial announce failed", zap.Error(err))
	}
	return p.Scheduler.Add(Name, Schedule, p.update)
}

func (p *Plugin) update(ctx context.Context) error {
	p.tick.Lock()
	defer p.tick.Unlock()
	p.refresh(ctx)
	return p.announce(ctx)
}

func (p *Plugin) refresh(ctx context.Context) {
	p.Log().Debug("Refreshing RSS feed", zap.String("url", p.settings.URL))
	var next *latest
	body, err := p.Fetcher.Get(ctx, p.settings.URL)
	if err == nil {
		var feed *gofeed.Feed
		if feed, err = p.parser.Parse(bytes.NewReader(body)); err == nil && len(feed.Items) > 0 {
			it := feed.Items[0]
			next = &latest{title: it.Title, link: it.Link}
			if it.PublishedParsed != nil {
				next.published = it.PublishedParsed.Unix()
			}
		}
	}
	if err != nil {
		p.Log().Warn("Refreshing RSS feed failed", zap.Error(err))
	}

	p.mu.Lock()
	p.latest = next
	p.mu.Unlock()
}

// announce объявляет выпуск, если он новее сохранённой отметки.
func (p *Plugin) announce(ctx context.Context) error {
	p.mu.Lock()
	cur, watermark := p.latest, p.settings.Published
	rooms := p.settings.Rooms
	p.mu.Unlock()

	if cur == nil || cur.published <= watermark {
		return nil
	}

	msg := chat.Notice(fmt.Sprintf("%s: %s\n%s", p.settings.Prefix, cur.title, cur.link))
	if err := p.Send(ctx, msg, rooms...); err != nil {
		p.Log().Warn("Announcement not delivered", zap.Error(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings.Published = cur.published
	if err := p.SaveConfig(ctx, p.settings); err != nil {
		p.settings.Published = watermark
		return err
	}
	return nil
}

func (p *Plugin) bulletin(context.Context, *string, string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil || p.latest.link == "" {
		return msgNoFeed, nil
	}
	return p.latest.link, nil
}
