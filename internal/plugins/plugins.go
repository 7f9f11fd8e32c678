// Package plugins - явный список всех плагинов бота.
package plugins

import (
	"github.com/EgorLis/roombot/internal/capability"
	"github.com/EgorLis/roombot/internal/plugins/bulletin"
	"github.com/EgorLis/roombot/internal/plugins/clock"
	"github.com/EgorLis/roombot/internal/plugins/dates"
	"github.com/EgorLis/roombot/internal/plugins/echo"
	"github.com/EgorLis/roombot/internal/plugins/mowas"
	"github.com/EgorLis/roombot/internal/plugins/rss"
	"github.com/EgorLis/roombot/internal/plugins/status"
)

// All возвращает дескрипторы в порядке регистрации. При коллизиях
// ключевых слов в режиме overwrite побеждает последний.
func All() []capability.Descriptor {
	return []capability.Descriptor{
		{Name: echo.Name, New: echo.New},
		{Name: clock.Name, New: clock.New},
		{Name: status.Name, New: status.New},
		{Name: rss.Name, New: rss.New},
		{Name: dates.Name, New: dates.New},
		{Name: bulletin.Name, New: bulletin.New},
		{Name: mowas.Name, New: mowas.New},
	}
}

// Names - имена всех плагинов (для `roombot check` и allow-list).
func Names() []string {
	all := All()
	out := make([]string, 0, len(all))
	for _, d := range all {
		out = append(out, d.Name)
	}
	return out
}
