// Package dates показывает ближайшие события из iCal-календарей (!dates)
// и напоминает о событиях за announce_interval минут до начала.
package dates

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apognu/gocal"
	"github.com/lestrrat-go/strftime"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/EgorLis/roombot/internal/capability"
	"github.com/EgorLis/roombot/internal/chat"
)

const Name = "dates"

const (
	RefreshSchedule  = "0 * * * *"
	AnnounceSchedule = "* * * * *"
)

const msgInvalidParam = "Invalid parameter for !dates"

// Calendar - один iCal-источник.
type Calendar struct {
	capability.Source `yaml:",inline"`
	URL               string `yaml:"url"`
}

// Minutes принимает и одно число, и список: `announce_interval: 15` или
// `announce_interval: [60, 15]`.
type Minutes []int

func (m *Minutes) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var v int
		if err := value.Decode(&v); err != nil {
			return err
		}
		*m = Minutes{v}
		return nil
	}
	var list []int
	if err := value.Decode(&list); err != nil {
		return err
	}
	*m = list
	return nil
}

type settings struct {
	Calendar         []Calendar `yaml:"calendar"`
	ListDays         int        `yaml:"list_days"`
	AnnounceInterval Minutes    `yaml:"announce_interval"`
	Format           struct {
		Datetime string `yaml:"datetime"`
	} `yaml:"format"`
	Timezone string `yaml:"timezone,omitempty"`
}

type event struct {
	start, end time.Time
	summary    string
	allDay     bool // end исключающий: полночь следующего дня
}

type Plugin struct {
	capability.Base
	settings settings
	format   *strftime.Strftime
	loc      *time.Location

	mu     sync.Mutex
	events map[string][]event // id календаря -> события по времени начала
}

func New(env capability.Env) (capability.Capability, error) {
	p := &Plugin{Base: capability.NewBase(Name, env), events: map[string][]event{}}
	err := p.LoadConfig(nil, &p.settings, "announce_interval", "calendar", "list_days", "format.datetime")
	if err != nil {
		return nil, err
	}
	if err := capability.CheckIDs("calendar", p.settings.Calendar); err != nil {
		return nil, fmt.Errorf("plugin %s: %w", Name, err)
	}
	for i, c := range p.settings.Calendar {
		if c.ID == "" || c.URL == "" {
			return nil, fmt.Errorf("plugin %s: calendar[%d] needs id and url", Name, i)
		}
	}
	if p.format, err = strftime.New(p.settings.Format.Datetime); err != nil {
		return nil, fmt.Errorf("plugin %s: invalid format.datetime: %w", Name, err)
	}
	p.loc = p.Location
	if p.settings.Timezone != "" {
		if p.loc, err = time.LoadLocation(p.settings.Timezone); err != nil {
			return nil, fmt.Errorf("plugin %s: invalid timezone %q: %w", Name, p.settings.Timezone, err)
		}
	}
	return p, nil
}

func (p *Plugin) Keywords() []capability.Keyword {
	return []capability.Keyword{{
		Name:        "dates",
		Description: "Show current dates",
		Help:        true,
		Handler:     p.dates,
	}}
}

// Start загружает календари, сразу проверяет напоминания и ставит задачи:
// обновление раз в час, напоминания каждую минуту.
func (p *Plugin) Start(ctx context.Context) error {
	p.refresh(ctx)
	if err := p.announce(ctx); err != nil {
		p.Log().Warn("Initial announce failed", zap.Error(err))
	}
	if err := p.Scheduler.Add(Name+":refresh", RefreshSchedule, func(ctx context.Context) error {
		p.refresh(ctx)
		return nil
	}); err != nil {
		return err
	}
	return p.Scheduler.Add(Name+":announce", AnnounceSchedule, p.announce)
}

func (p *Plugin) refresh(ctx context.Context) {
	for _, c := range p.settings.Calendar {
		p.Log().Debug("Refreshing calendar", zap.String("calendar", c.ID), zap.String("url", c.URL))
		events, err := p.load(ctx, c)
		if err != nil {
			p.Log().Warn("Refreshing calendar failed", zap.String("calendar", c.ID), zap.Error(err))
			continue
		}
		p.mu.Lock()
		p.events[c.ID] = events
		p.mu.Unlock()
	}
}

func (p *Plugin) load(ctx context.Context, c Calendar) ([]event, error) {
	body, err := p.Fetcher.Get(ctx, c.URL)
	if err != nil {
		return nil, err
	}
	start := p.Now().In(p.loc)
	end := start.AddDate(0, 0, p.settings.ListDays)

	parser := gocal.NewParser(bytes.NewReader(body))
	parser.Start, parser.End = &start, &end
	if err := parser.Parse(); err != nil {
		return nil, fmt.Errorf("parse ical: %w", err)
	}

	events := make([]event, 0, len(parser.Events))
	for _, e := range parser.Events {
		if e.Start == nil {
			continue
		}
		ev := event{start: p.localize(*e.Start, e.RawStart), summary: e.Summary, allDay: dateValue(e.RawStart)}
		ev.end = ev.start
		if e.End != nil {
			ev.end = p.localize(*e.End, e.RawEnd)
		}
		events = append(events, ev)
	}
	sortEvents(events)
	return events, nil
}

// localize переносит события на весь день (VALUE=DATE) на полночь в
// часовом поясе бота.
func (p *Plugin) localize(t time.Time, raw gocal.RawDate) time.Time {
	if dateValue(raw) {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, p.loc)
	}
	return t.In(p.loc)
}

func dateValue(raw gocal.RawDate) bool {
	return raw.Params["VALUE"] == "DATE" || len(raw.Value) == len("20060102")
}

func sortEvents(events []event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].start.Before(events[j].start) })
}

// merged - события нескольких календарей одним отсортированным списком.
func (p *Plugin) merged(ids []string) []event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event
	for _, id := range ids {
		out = append(out, p.events[id]...)
	}
	sortEvents(out)
	return out
}

// announce напоминает о событиях, которые начинаются ровно через одно из
// announce_interval минут.
func (p *Plugin) announce(ctx context.Context) error {
	now := p.Now().In(p.loc).Truncate(time.Minute)

	rooms, err := p.JoinedRooms(ctx)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		events := p.merged(capability.IDs(capability.VisibleIn(p.settings.Calendar, room)))
		for _, minutes := range p.settings.AnnounceInterval {
			then := now.Add(time.Duration(minutes) * time.Minute)
			for _, ev := range events {
				if ev.start.After(then) {
					break
				}
				if !ev.start.Equal(then) {
					continue
				}
				msg := chat.Text(fmt.Sprintf("Upcoming event: %s - %s", p.format.FormatString(ev.start), ev.summary))
				if err := p.Send(ctx, msg, room); err != nil {
					p.Log().Warn("Reminder not delivered", zap.String("room", room), zap.Error(err))
				}
			}
		}
	}
	return nil
}

func (p *Plugin) dates(_ context.Context, param *string, roomID string) (string, error) {
	var ids []string
	switch {
	case param == nil:
		ids = capability.IDs(capability.VisibleIn(p.settings.Calendar, roomID))
	case *param == "all":
		ids = capability.IDs(p.settings.Calendar)
	case slices.Contains(capability.IDs(p.settings.Calendar), *param):
		ids = []string{*param}
	default:
		return msgInvalidParam, nil
	}

	events := p.merged(ids)
	if len(events) == 0 {
		return fmt.Sprintf("No dates during the next %d days", p.settings.ListDays), nil
	}

	var b strings.Builder
	b.WriteString("Please notice the next following event(s):")
	for _, ev := range events {
		fmt.Fprintf(&b, "\n  %s - %s", p.format.FormatString(ev.start), ev.summary)
		if dateOnly(ev.lastMoment()).After(dateOnly(ev.start)) {
			fmt.Fprintf(&b, " (until %s)", p.format.FormatString(ev.end))
		}
	}
	return b.String(), nil
}

// lastMoment - последний момент события; у событий на весь день DTEND
// уже за пределами события.
func (ev event) lastMoment() time.Time {
	if ev.allDay && ev.end.After(ev.start) {
		return ev.end.Add(-time.Nanosecond)
	}
	return ev.end
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Help - список календарей; (*) отмечает календари этой комнаты.
func (p *Plugin) Help(controlSign, roomID string) string {
	cals := slices.Clone(p.settings.Calendar)
	sort.Slice(cals, func(i, j int) bool { return cals[i].ID < cals[j].ID })

	var b strings.Builder
	fmt.Fprintf(&b, "You can query a single calendar using \"%sdates [calendar id]\".\n", controlSign)
	fmt.Fprintf(&b, "To get a combination from all calendars use \"%sdates all\".\n", controlSign)
	b.WriteString("Available calendars:\n")
	for _, c := range cals {
		fmt.Fprintf(&b, "\n[%s] %s", c.ID, c.Title())
		if c.Visible(roomID) {
			b.WriteString(" (*)")
		}
	}
	fmt.Fprintf(&b, "\n\nCalendars with (*) will be used on command \"%sdates\" and auto announcements.", controlSign)
	return b.String()
}
