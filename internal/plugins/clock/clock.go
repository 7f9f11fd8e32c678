// Package clock отвечает текущими датой и временем (!now).
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/EgorLis/roombot/internal/capability"
)

const Name = "clock"

type settings struct {
	Format   string `yaml:"format"`
	Timezone string `yaml:"timezone,omitempty"`
}

var defaults = map[string]any{
	"format": "%A, %d. %B %Y %H:%M:%S",
}

type Plugin struct {
	capability.Base
	format *strftime.Strftime
	loc    *time.Location
}

func New(env capability.Env) (capability.Capability, error) {
	p := &Plugin{Base: capability.NewBase(Name, env)}

	var s settings
	if err := p.LoadConfig(defaults, &s); err != nil {
		return nil, err
	}
	f, err := strftime.New(s.Format)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: invalid format %q: %w", Name, s.Format, err)
	}
	p.format = f

	p.loc = p.Location
	if s.Timezone != "" {
		if p.loc, err = time.LoadLocation(s.Timezone); err != nil {
			return nil, fmt.Errorf("plugin %s: invalid timezone %q: %w", Name, s.Timezone, err)
		}
	}
	return p, nil
}

func (p *Plugin) Keywords() []capability.Keyword {
	return []capability.Keyword{{
		Name:        "now",
		Description: "Return current date and time",
		Handler:     p.now,
	}}
}

func (p *Plugin) now(context.Context, *string, string) (string, error) {
	return p.format.FormatString(p.Now().In(p.loc)), nil
}
