// Package echo повторяет текст после ключевого слова.
package echo

import (
	"context"

	"github.com/EgorLis/roombot/internal/capability"
)

const Name = "echo"

// Fallback - ответ на "!echo" без текста.
const Fallback = "Nothing to echo here."

type Plugin struct {
	capability.Base
}

func New(env capability.Env) (capability.Capability, error) {
	return &Plugin{Base: capability.NewBase(Name, env)}, nil
}

func (p *Plugin) Keywords() []capability.Keyword {
	return []capability.Keyword{{
		Name:        "echo",
		Description: "Bot returns text after keyword echo",
		Handler:     p.echo,
	}}
}

func (p *Plugin) echo(_ context.Context, param *string, _ string) (string, error) {
	if param == nil {
		return Fallback, nil
	}
	return *param, nil
}
