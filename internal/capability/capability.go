// Package capability - плагинная часть бота: что такое возможность
// (capability), какие ключевые слова она объявляет и как реестр строит из
// них таблицу маршрутизации.
//
// Плагины регистрируются явно списком дескрипторов (см. internal/plugins),
// всё общее состояние приходит через Env - глобальных синглтонов нет.
package capability

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/EgorLis/roombot/internal/chat"
	"github.com/EgorLis/roombot/internal/config"
	"github.com/EgorLis/roombot/internal/scheduler"
)

// Format - в каком виде отправлять ответ ключевого слова.
type Format int

const (
	FormatText Format = iota
	FormatHTML
)

func (f Format) String() string {
	if f == FormatHTML {
		return "html"
	}
	return "text"
}

// Handler обрабатывает команду. param == nil, если после ключевого слова
// ничего не было. Пустая строка означает "не отвечать".
type Handler func(ctx context.Context, param *string, roomID string) (string, error)

// DefaultDescription - описание ключевого слова, если плагин его не задал.
const DefaultDescription = "No description available."

// Keyword - запись таблицы ключевых слов плагина.
type Keyword struct {
	Name        string
	Description string
	Rooms       []string // пусто = доступно во всех комнатах
	Help        bool     // у плагина есть расширенная справка
	Format      Format
	Handler     Handler // nil допустим: диспетчер ответит диагностикой
}

// Capability - один плагин.
type Capability interface {
	Name() string
	Keywords() []Keyword
}

// Helper - плагин с расширенной справкой (!help <keyword>).
type Helper interface {
	Help(controlSign, roomID string) string
}

// Starter - плагин с начальной загрузкой данных и фоновыми задачами.
// Start вызывается один раз после построения реестра.
type Starter interface {
	Start(ctx context.Context) error
}

// Descriptor - статическое описание плагина для реестра.
type Descriptor struct {
	Name string
	New  func(env Env) (Capability, error)
}

// Scheduler - то, что плагинам нужно от планировщика.
type Scheduler interface {
	Add(name, spec string, fn scheduler.Job) error
}

// Remover - планировщик, умеющий снимать задачи. Реестр снимает через него
// задачи плагина, который не смог стартовать.
type Remover interface {
	Remove(name string) bool
}

// jobTracker запоминает имена задач, поставленных одним плагином.
type jobTracker struct {
	Scheduler
	names []string
}

func (t *jobTracker) Add(name, spec string, fn scheduler.Job) error {
	if err := t.Scheduler.Add(name, spec, fn); err != nil {
		return err
	}
	t.names = append(t.names, name)
	return nil
}

// Fetcher - HTTP-доступ к внешним источникам.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
	GetJSON(ctx context.Context, url string, out any) error
}

// Env - общее окружение, которое получает каждый плагин.
type Env struct {
	Client      chat.Client
	Config      *config.Store
	Scheduler   Scheduler
	Fetcher     Fetcher
	Logger      *zap.Logger
	Now         func() time.Time
	Location    *time.Location
	GlobalRooms []string // bot.rooms
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.Location == nil {
		e.Location = time.Local
	}
	return e
}
