// Package mowas показывает предупреждения "Modulares Warnsystem" (NINA)
// для настроенных мест и объявляет новые предупреждения в комнатах.
package mowas

import (
	"context"
	"fmt"
	"html"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/lestrrat-go/strftime"
	"go.uber.org/zap"

	"github.com/EgorLis/roombot/internal/capability"
	"github.com/EgorLis/roombot/internal/chat"
)

const Name = "mowas"

// Schedule - обновление и анонс каждую минуту.
const Schedule = "* * * * *"

const (
	msgInvalidParam = "Invalid parameter for !mowas"
	msgNoWarnings   = "No warnings available"
)

// Location - место по региональному ключу (ARS).
type Location struct {
	capability.Source `yaml:",inline"`
	ARS               string `yaml:"ars"`
	Highwater         *bool  `yaml:"highwater,omitempty"`
	Weather           *bool  `yaml:"weather,omitempty"`
	Published         *int64 `yaml:"published,omitempty"`
}

// wants - показывать ли предупреждения этого типа (по умолчанию да).
func (l Location) wants(k Kind) bool {
	switch k {
	case KindHighwater:
		return l.Highwater == nil || *l.Highwater
	case KindWeather:
		return l.Weather == nil || *l.Weather
	default:
		return true
	}
}

type settings struct {
	Locations []Location `yaml:"locations"`
	Format    struct {
		Datetime string `yaml:"datetime"`
	} `yaml:"format"`
	APIURL    string `yaml:"api_url"`
	DetailURL string `yaml:"detail_url"`
}

var defaults = map[string]any{
	"api_url":    "https://nina.api.proxy.bund.dev/api31",
	"detail_url": "https://warnung.bund.de/meldungen/",
}

type Plugin struct {
	capability.Base
	format *strftime.Strftime

	tick sync.Mutex

	mu       sync.Mutex
	settings settings
	warnings map[string][]Warning // id места -> предупреждения, новые первыми; nil - недоступно
}

func New(env capability.Env) (capability.Capability, error) {
	p := &Plugin{Base: capability.NewBase(Name, env), warnings: map[string][]Warning{}}
	err := p.LoadConfig(defaults, &p.settings, "locations", "format.datetime")
	if err != nil {
		return nil, err
	}
	if p.format, err = strftime.New(p.settings.Format.Datetime); err != nil {
		return nil, fmt.Errorf("plugin %s: invalid format.datetime: %w", Name, err)
	}
	now := p.Now().Unix()
	if err := capability.CheckIDs("locations", p.settings.Locations); err != nil {
		return nil, fmt.Errorf("plugin %s: %w", Name, err)
	}
	for i := range p.settings.Locations {
		l := &p.settings.Locations[i]
		if l.ID == "" || l.ARS == "" {
			return nil, fmt.Errorf("plugin %s: locations[%d] needs id and ars", Name, i)
		}
		if l.Published == nil {
			ts := now
			l.Published = &ts
		}
	}
	return p, nil
}

func (p *Plugin) Keywords() []capability.Keyword {
	return []capability.Keyword{{
		Name:        "mowas",
		Description: `Current entries from "Modulares Warnsystem" (MoWaS)`,
		Help:        true,
		Format:      capability.FormatHTML,
		Handler:     p.mowas,
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
	for _, l := range p.locations() {
		p.Log().Debug("Refreshing warnings", zap.String("location", l.ID))
		var list []Warning
		url := fmt.Sprintf("%s/dashboard/%s.json", strings.TrimRight(p.settings.APIURL, "/"), l.ARS)
		if err := p.Fetcher.GetJSON(ctx, url, &list); err != nil {
			p.Log().Warn("Refreshing warnings failed", zap.String("location", l.ID), zap.Error(err))
			list = nil
		} else if list == nil {
			list = []Warning{}
		}
		sortNewestFirst(list)

		p.mu.Lock()
		p.warnings[l.ID] = list
		p.mu.Unlock()
	}
}

func (p *Plugin) locations() []Location {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.settings.Locations)
}

// announce: новые предупреждения считаются по каждому месту один раз,
// рассылаются во все комнаты бота, подписанные на место, после чего
// отметки мест сдвигаются и сохраняются одной записью.
func (p *Plugin) announce(ctx context.Context) error {
	locs := p.locations()
	fresh := map[string][]Warning{}
	marks := map[string]int64{}

	p.mu.Lock()
	for _, l := range locs {
		for _, w := range p.warnings[l.ID] {
			if w.Sent.Unix() <= *l.Published {
				continue
			}
			if _, ok := marks[l.ID]; !ok {
				marks[l.ID] = w.Sent.Unix()
			}
			if l.wants(w.kind()) {
				fresh[l.ID] = append(fresh[l.ID], w)
			}
		}
	}
	p.mu.Unlock()
	if len(marks) == 0 {
		return nil
	}

	// без списка комнат рассылки не было, отметки остаются на месте
	rooms, err := p.JoinedRooms(ctx)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		var subscribed []Location
		for _, l := range locs {
			if l.Subscribed(room) {
				subscribed = append(subscribed, l)
			}
		}
		var b strings.Builder
		for _, l := range subscribed {
			for _, w := range fresh[l.ID] {
				if line := p.formatWarning(w, l, len(subscribed)); line != "" {
					b.WriteString(line)
					b.WriteString("<br />")
				}
			}
		}
		if b.Len() == 0 {
			continue
		}
		if err := p.Send(ctx, chat.HTML(b.String()), room); err != nil {
			p.Log().Warn("Announcement not delivered", zap.String("room", room), zap.Error(err))
		}
	}
	return p.advance(ctx, marks)
}

func (p *Plugin) advance(ctx context.Context, marks map[string]int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := slices.Clone(p.settings.Locations)
	for i := range p.settings.Locations {
		if ts, ok := marks[p.settings.Locations[i].ID]; ok {
			v := ts
			p.settings.Locations[i].Published = &v
		}
	}
	if err := p.SaveConfig(ctx, p.settings); err != nil {
		p.settings.Locations = prev
		return err
	}
	return nil
}

func (p *Plugin) mowas(_ context.Context, param *string, roomID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var locs []Location
	switch {
	case param == nil:
		locs = capability.VisibleIn(p.settings.Locations, roomID)
	case *param == "all":
		locs = p.settings.Locations
	default:
		l, ok := capability.Find(p.settings.Locations, *param)
		if !ok {
			return msgInvalidParam, nil
		}
		locs = []Location{l}
	}

	var b strings.Builder
	for _, l := range locs {
		for _, w := range p.warnings[l.ID] {
			if !l.wants(w.kind()) {
				continue
			}
			if line := p.formatWarning(w, l, len(locs)); line != "" {
				b.WriteString(line)
				b.WriteString("<br />")
			}
		}
	}
	if b.Len() == 0 {
		return msgNoWarnings, nil
	}
	return b.String(), nil
}

// formatWarning - одна строка HTML. Предупреждение без немецкого
// заголовка пропускается.
func (p *Plugin) formatWarning(w Warning, l Location, locCount int) string {
	title, ok := w.I18nTitle["de"]
	if !ok {
		return ""
	}
	sev := w.severity()

	var b strings.Builder
	if locCount > 1 {
		fmt.Fprintf(&b, "%s | ", html.EscapeString(l.Title()))
	}
	fmt.Fprintf(&b, `<font color="%s"><strong>%s</strong></font> | <a href="%s%s">%s</a> | %s`,
		severityColor[sev],
		html.EscapeString(w.severityName()),
		p.settings.DetailURL, html.EscapeString(w.ID),
		html.EscapeString(title),
		html.EscapeString(w.sender()),
	)
	if strings.EqualFold(w.Payload.Data.MsgType, "update") {
		b.WriteString(`<font color="#666666"> | Aktualisierung</font>`)
	}
	if w.Onset != nil && w.Expires != nil {
		fmt.Fprintf(&b, `<br /><font color="#aaaaaa"><i> (gültig vom %s bis %s)</i></font>`,
			p.format.FormatString(w.Onset.In(p.Location)),
			p.format.FormatString(w.Expires.In(p.Location)),
		)
	}
	return b.String()
}

// Help - таблица мест; (*) отмечает места, видимые в комнате.
func (p *Plugin) Help(controlSign, roomID string) string {
	locs := p.locations()
	sort.Slice(locs, func(i, j int) bool { return locs[i].ID < locs[j].ID })

	width := len("LOCATION-ID")
	for _, l := range locs {
		width = max(width, len(l.ID))
	}
	width++

	var b strings.Builder
	fmt.Fprintf(&b, "You can query a single location using \"%smowas LOCATION-ID\".\n", controlSign)
	fmt.Fprintf(&b, "To get a combination from all locations use \"%smowas all\".\n\n", controlSign)
	fmt.Fprintf(&b, "%*s | NAME", width, "LOCATION-ID")
	for _, l := range locs {
		fmt.Fprintf(&b, "\n%*s | %s", width, l.ID, l.Title())
		if l.Visible(roomID) {
			b.WriteString(" (*)")
		}
	}
	fmt.Fprintf(&b, "\n\nLocations with (*) will be used on command \"%smowas\" and auto announcements.", controlSign)
	return b.String()
}
