// Package rss читает RSS/Atom-ленты: отвечает на !rss и сам объявляет
// новые записи в комнатах, подписанных на ленту.
//
// Для каждой ленты в конфигурации хранится published - unix-время самой
// свежей объявленной записи. Анонс сравнивает ленту с этой отметкой,
// отправляет новые записи одним сообщением на комнату и только после
// отправки сдвигает и сохраняет отметку.
package rss

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/EgorLis/roombot/internal/capability"
	"github.com/EgorLis/roombot/internal/chat"
	"github.com/EgorLis/roombot/internal/scheduler"
)

const Name = "rss"

const (
	msgNoFeed       = "No valid RSS feed available. Please try again later"
	msgNoFeeds      = "No RSS feeds found."
	msgInvalidParam = "Invalid parameter for !rss"
)

// Типы лент с особым форматированием.
const (
	TypeDokuwiki  = "dokuwiki"
	TypeWordpress = "wordpress"
	TypeGeneric   = "generic"
)

type Summarize struct {
	Threshold int    `yaml:"threshold"`
	Link      string `yaml:"link,omitempty"`
}

// Feed - одна лента. Published == nil до первого запуска.
type Feed struct {
	capability.Source `yaml:",inline"`
	URL               string    `yaml:"url"`
	Type              string    `yaml:"type,omitempty"`
	Cron              string    `yaml:"cron,omitempty"`
	Published         *int64    `yaml:"published,omitempty"`
	Summarize         Summarize `yaml:"summarize,omitempty"`
}

type settings struct {
	Feeds []Feed `yaml:"feeds"`
	Count struct {
		Merged int `yaml:"merged"`
		Single int `yaml:"single"`
	} `yaml:"count"`
}

var defaults = map[string]any{
	"count": map[string]any{"merged": 1, "single": 3},
}

// entry - запись ленты с уже вычисленным временем публикации.
type entry struct {
	item      *gofeed.Item
	published int64
}

type Plugin struct {
	capability.Base
	parser *gofeed.Parser

	tick sync.Mutex // обновление и анонс одной ленты не пересекаются

	mu       sync.Mutex
	settings settings
	entries  map[string][]entry // id ленты -> записи, новые первыми
}

func New(env capability.Env) (capability.Capability, error) {
	p := &Plugin{
		Base:    capability.NewBase(Name, env),
		parser:  gofeed.NewParser(),
		entries: map[string][]entry{},
	}
	if err := p.LoadConfig(defaults, &p.settings, "feeds"); err != nil {
		return nil, err
	}

	now := p.Now().Unix()
	if err := capability.CheckIDs("feeds", p.settings.Feeds); err != nil {
		return nil, fmt.Errorf("plugin %s: %w", Name, err)
	}
	for i := range p.settings.Feeds {
		f := &p.settings.Feeds[i]
		if f.ID == "" || f.URL == "" {
			return nil, fmt.Errorf("plugin %s: feeds[%d] needs id and url", Name, i)
		}
		switch f.Type {
		case "", TypeGeneric, TypeDokuwiki, TypeWordpress:
		default:
			return nil, fmt.Errorf("plugin %s: feed %s: unknown type %q", Name, f.ID, f.Type)
		}
		if f.Cron != "" {
			if err := scheduler.Validate(f.Cron); err != nil {
				return nil, fmt.Errorf("plugin %s: feed %s: %w", Name, f.ID, err)
			}
		}
		if f.Published == nil {
			ts := now
			f.Published = &ts
		}
	}
	return p, nil
}

func (p *Plugin) Keywords() []capability.Keyword {
	return []capability.Keyword{{
		Name:        "rss",
		Description: "Latest entries from RSS feeds",
		Help:        true,
		Handler:     p.rss,
	}}
}

// Start загружает все ленты (с анонсом) и ставит задачи: ленты со своим
// cron получают отдельную задачу, остальные делят одну задачу раз в 15
// минут со случайным сдвигом.
func (p *Plugin) Start(ctx context.Context) error {
	if err := p.update(ctx, nil); err != nil {
		p.Log().Error("Initial announce failed", zap.Error(err))
	}

	var shared []string
	for _, f := range p.feeds() {
		if f.Cron == "" {
			shared = append(shared, f.ID)
			continue
		}
		ids := []string{f.ID}
		if err := p.Scheduler.Add(Name+":"+f.ID, f.Cron, func(ctx context.Context) error {
			return p.update(ctx, ids)
		}); err != nil {
			return err
		}
	}
	if len(shared) > 0 {
		spec := fmt.Sprintf("%d/15 * * * *", rand.Intn(15))
		if err := p.Scheduler.Add(Name, spec, func(ctx context.Context) error {
			return p.update(ctx, shared)
		}); err != nil {
			return err
		}
	}
	return nil
}

// update - обновление и сразу анонс. ids == nil означает все ленты.
func (p *Plugin) update(ctx context.Context, ids []string) error {
	p.tick.Lock()
	defer p.tick.Unlock()
	p.refresh(ctx, ids)
	return p.announce(ctx, ids)
}

func (p *Plugin) feeds() []Feed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.settings.Feeds)
}

func selected(ids []string, id string) bool {
	return ids == nil || slices.Contains(ids, id)
}

// refresh скачивает ленты. При ошибке в кэше остаются прежние записи.
func (p *Plugin) refresh(ctx context.Context, ids []string) {
	for _, f := range p.feeds() {
		if !selected(ids, f.ID) {
			continue
		}
		p.Log().Debug("Refreshing RSS feed", zap.String("feed", f.ID), zap.String("url", f.URL))
		body, err := p.Fetcher.Get(ctx, f.URL)
		if err != nil {
			p.Log().Warn("Error downloading RSS feed", zap.String("feed", f.ID), zap.Error(err))
			continue
		}
		parsed, err := p.parser.Parse(bytes.NewReader(body))
		if err != nil {
			p.Log().Warn("Error parsing RSS feed", zap.String("feed", f.ID), zap.Error(err))
			continue
		}

		list := make([]entry, 0, len(parsed.Items))
		for _, it := range parsed.Items {
			list = append(list, entry{item: it, published: publishedOf(it)})
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].published > list[j].published })

		p.mu.Lock()
		p.entries[f.ID] = list
		p.mu.Unlock()
	}
}

func publishedOf(it *gofeed.Item) int64 {
	switch {
	case it.PublishedParsed != nil:
		return it.PublishedParsed.Unix()
	case it.UpdatedParsed != nil:
		return it.UpdatedParsed.Unix()
	default:
		return 0
	}
}

// announce объявляет новые записи каждой ленты в её комнатах и сдвигает
// отметку. Ленты без комнат не объявляются.
func (p *Plugin) announce(ctx context.Context, ids []string) error {
	for _, f := range p.feeds() {
		if !selected(ids, f.ID) || len(f.Rooms) == 0 {
			continue
		}

		p.mu.Lock()
		var fresh []entry
		for _, e := range p.entries[f.ID] {
			if e.published > *f.Published {
				fresh = append(fresh, e)
			}
		}
		p.mu.Unlock()
		if len(fresh) == 0 {
			continue
		}

		msg := chat.Notice(formatAnnouncement(f, fresh))
		if err := p.Send(ctx, msg, f.Rooms...); err != nil {
			p.Log().Warn("Announcement not delivered", zap.String("feed", f.ID), zap.Error(err))
		}
		if err := p.advance(ctx, f.ID, fresh[0].published); err != nil {
			return err
		}
	}
	return nil
}

// advance сдвигает отметку ленты и сохраняет настройки. Если запись не
// удалась, отметка в памяти возвращается назад.
func (p *Plugin) advance(ctx context.Context, id string, published int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := slices.IndexFunc(p.settings.Feeds, func(f Feed) bool { return f.ID == id })
	if idx < 0 {
		return nil
	}
	prev := p.settings.Feeds[idx].Published
	p.settings.Feeds[idx].Published = &published
	if err := p.SaveConfig(ctx, p.settings); err != nil {
		p.settings.Feeds[idx].Published = prev
		return fmt.Errorf("feed %s: %w", id, err)
	}
	p.Log().Info("Feed watermark advanced", zap.String("feed", id), zap.Int64("published", published))
	return nil
}

func (p *Plugin) rss(_ context.Context, param *string, roomID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return msgNoFeed, nil
	}

	count := p.settings.Count.Merged
	var ids []string
	switch {
	case param == nil:
		ids = capability.IDs(capability.VisibleIn(p.settings.Feeds, roomID))
	case *param == "all":
		ids = capability.IDs(p.settings.Feeds)
	default:
		if _, ok := capability.Find(p.settings.Feeds, *param); !ok {
			return msgInvalidParam, nil
		}
		ids = []string{*param}
		count = p.settings.Count.Single
	}
	if len(ids) == 0 {
		return msgNoFeeds, nil
	}

	var blocks []string
	for _, f := range p.settings.Feeds {
		if !slices.Contains(ids, f.ID) {
			continue
		}
		list := p.entries[f.ID]
		for i := 0; i < count && i < len(list); i++ {
			blocks = append(blocks, formatEntry(f, list[i].item, false))
		}
	}
	return strings.Join(blocks, "\n"), nil
}

// Help - таблица лент; (*) отмечает ленты, видимые в этой комнате.
func (p *Plugin) Help(controlSign, roomID string) string {
	p.mu.Lock()
	feeds := slices.Clone(p.settings.Feeds)
	p.mu.Unlock()
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].ID < feeds[j].ID })

	width := len("FEED-ID")
	for _, f := range feeds {
		width = max(width, len(f.ID))
	}
	width++

	var b strings.Builder
	fmt.Fprintf(&b, "You can query a single RSS feed using \"%srss FEED-ID\".\n", controlSign)
	fmt.Fprintf(&b, "To get a combination from all feeds use \"%srss all\".\n\n", controlSign)
	fmt.Fprintf(&b, "%*s | NAME", width, "FEED-ID")
	for _, f := range feeds {
		fmt.Fprintf(&b, "\n%*s | %s", width, f.ID, f.Title())
		if f.Visible(roomID) {
			b.WriteString(" (*)")
		}
	}
	fmt.Fprintf(&b, "\n\nRSS feeds with (*) will be used on command \"%srss\" and auto announcements.", controlSign)
	return b.String()
}

// formatAnnouncement собирает одно сообщение из новых записей (новые
// первыми на входе, старые первыми в тексте).
func formatAnnouncement(f Feed, fresh []entry) string {
	summarize := f.Summarize.Threshold != 0 && len(fresh) > f.Summarize.Threshold

	lines := make([]string, 0, len(fresh))
	for i := len(fresh) - 1; i >= 0; i-- {
		lines = append(lines, formatEntry(f, fresh[i].item, summarize))
	}
	out := strings.Join(lines, "\n")

	if summarize {
		out = fmt.Sprintf("%s | %d entries in RSS feed found:\n", strings.ToUpper(f.Title()), len(fresh)) + out
		if f.Summarize.Link != "" {
			out += "\n" + f.Summarize.Link
		}
	}
	return out
}

func formatEntry(f Feed, it *gofeed.Item, summarize bool) string {
	var message, link string
	switch f.Type {
	case TypeDokuwiki:
		page, comment, hasComment := strings.Cut(it.Title, " - ")
		author, _, _ := strings.Cut(authorOf(it), "@")
		message = fmt.Sprintf("%s changed %s", author, page)
		if hasComment {
			message += fmt.Sprintf(" (comment: %s)", comment)
		}
		link, _, _ = strings.Cut(it.Link, "?")
	case TypeWordpress:
		message = fmt.Sprintf("%s added %s", authorOf(it), it.Title)
		link, _, _ = strings.Cut(it.Link, "?")
	default:
		message = fmt.Sprintf("%s: %s", authorOf(it), it.Title)
		link = it.Link
	}

	if summarize {
		return message
	}
	return fmt.Sprintf("%s | %s\n%s", strings.ToUpper(f.Title()), message, link)
}

func authorOf(it *gofeed.Item) string {
	var p *gofeed.Person
	if len(it.Authors) > 0 {
		p = it.Authors[0]
	}
	if p == nil {
		p = it.Author //nolint:staticcheck
	}
	if p == nil {
		return "unknown"
	}
	if p.Name != "" {
		return p.Name
	}
	if p.Email != "" {
		return p.Email
	}
	return "unknown"
}

// Watermark - текущая отметка ленты (для check и тестов).
func (p *Plugin) Watermark(id string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := capability.Find(p.settings.Feeds, id)
	if !ok || f.Published == nil {
		return time.Time{}, false
	}
	return time.Unix(*f.Published, 0), true
}
