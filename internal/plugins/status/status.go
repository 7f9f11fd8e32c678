// Package status показывает состояние хакспейсов по SpaceAPI (!status).
// Ответ кэшируется на cache_interval секунд; JSON разбирается в
// structpb.Struct, потому что у разных пространств разный набор полей.
package status

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/EgorLis/roombot/internal/capability"
)

const Name = "status"

const (
	msgInvalidParam = "Invalid parameter for !status"
	msgNoSource     = "No status configured for this room."
	msgInvalid      = "No valid space status found."
)

// Source - один SpaceAPI-эндпоинт.
type Source struct {
	capability.Source `yaml:",inline"`
	URL               string `yaml:"url"`
}

type settings struct {
	Status        []Source `yaml:"status"`
	CacheInterval int      `yaml:"cache_interval"` // секунды
	ShowPeople    bool     `yaml:"show_people"`
}

var defaults = map[string]any{
	"cache_interval": 60,
	"show_people":    false,
}

type snapshot struct {
	data    *structpb.Struct // nil - источник недоступен
	fetched time.Time
}

type Plugin struct {
	capability.Base
	settings settings

	mu    sync.Mutex
	cache map[string]snapshot
}

func New(env capability.Env) (capability.Capability, error) {
	p := &Plugin{Base: capability.NewBase(Name, env), cache: map[string]snapshot{}}
	if err := p.LoadConfig(defaults, &p.settings, "status", "cache_interval", "show_people"); err != nil {
		return nil, err
	}
	if err := capability.CheckIDs("status", p.settings.Status); err != nil {
		return nil, fmt.Errorf("plugin %s: %w", Name, err)
	}
	for i, s := range p.settings.Status {
		if s.ID == "" || s.URL == "" {
			return nil, fmt.Errorf("plugin %s: status[%d] needs id and url", Name, i)
		}
	}
	return p, nil
}

func (p *Plugin) Keywords() []capability.Keyword {
	return []capability.Keyword{{
		Name:        "status",
		Description: "Current room status",
		Rooms:       capability.Scope(p.settings.Status),
		Handler:     p.status,
	}}
}

// Start загружает статус всех источников один раз.
func (p *Plugin) Start(ctx context.Context) error {
	for _, s := range p.settings.Status {
		p.refresh(ctx, s)
	}
	return nil
}

// refresh обновляет источник, если кэш устарел.
func (p *Plugin) refresh(ctx context.Context, s Source) {
	p.mu.Lock()
	prev, ok := p.cache[s.ID]
	p.mu.Unlock()
	ttl := time.Duration(p.settings.CacheInterval) * time.Second
	if ok && prev.data != nil && p.Now().Before(prev.fetched.Add(ttl)) {
		return
	}

	p.Log().Debug("Refreshing status", zap.String("status", s.ID), zap.String("url", s.URL))
	next := snapshot{}
	body, err := p.Fetcher.Get(ctx, s.URL)
	if err == nil {
		var data structpb.Struct
		if err = protojson.Unmarshal(body, &data); err == nil {
			next = snapshot{data: &data, fetched: p.Now()}
		}
	}
	if err != nil {
		p.Log().Warn("Refreshing status failed", zap.String("status", s.ID), zap.Error(err))
	}

	p.mu.Lock()
	p.cache[s.ID] = next
	p.mu.Unlock()
}

func (p *Plugin) status(ctx context.Context, param *string, roomID string) (string, error) {
	if param != nil {
		return msgInvalidParam, nil
	}
	sources := capability.VisibleIn(p.settings.Status, roomID)
	if len(sources) == 0 {
		return msgNoSource, nil
	}

	lines := make([]string, 0, len(sources))
	for _, s := range sources {
		p.refresh(ctx, s)
		p.mu.Lock()
		data := p.cache[s.ID].data
		p.mu.Unlock()
		lines = append(lines, p.format(data))
	}
	return strings.Join(lines, "\n"), nil
}

func (p *Plugin) format(data *structpb.Struct) string {
	if data == nil {
		return msgInvalid
	}
	space, ok := data.Fields["space"]
	if !ok {
		return msgInvalid
	}
	state := data.Fields["state"].GetStructValue()
	if state == nil {
		return msgInvalid
	}
	open, ok := state.Fields["open"]
	if !ok {
		return msgInvalid
	}
	if _, isBool := open.Kind.(*structpb.Value_BoolValue); !isBool {
		return msgInvalid
	}

	word := "CLOSED"
	if open.GetBoolValue() {
		word = "OPEN"
	}
	out := fmt.Sprintf("%s is %s.", space.GetStringValue(), word)

	if p.settings.ShowPeople {
		if n, names := peoplePresent(data); n > 0 {
			out += fmt.Sprintf(" %d people present: %s", n, strings.Join(names, ", "))
		}
	}
	return out
}

// peoplePresent читает sensors.people_now_present[0].
func peoplePresent(data *structpb.Struct) (int, []string) {
	sensors := data.Fields["sensors"].GetStructValue()
	if sensors == nil {
		return 0, nil
	}
	list := sensors.Fields["people_now_present"].GetListValue()
	if list == nil || len(list.Values) == 0 {
		return 0, nil
	}
	first := list.Values[0].GetStructValue()
	if first == nil {
		return 0, nil
	}
	n := int(first.Fields["value"].GetNumberValue())
	var names []string
	for _, v := range first.Fields["names"].GetListValue().GetValues() {
		names = append(names, v.GetStringValue())
	}
	return n, names
}
