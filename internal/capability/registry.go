package capability

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrNotFound - такого ключевого слова нет.
	ErrNotFound = errors.New("keyword not found")
	// ErrOutOfScope - слово есть, но не в этой комнате.
	ErrOutOfScope = errors.New("keyword not available in room")
)

// Reserved - встроенные команды диспетчера; плагины их объявлять не могут.
var Reserved = []string{"help", "version"}

// CollisionPolicy - что делать, если два плагина объявили одно слово с
// пересекающимися областями видимости.
type CollisionPolicy string

const (
	CollisionReject    CollisionPolicy = "reject"
	CollisionOverwrite CollisionPolicy = "overwrite"
)

// CollisionError - конфликт ключевых слов при построении реестра.
type CollisionError struct {
	Keyword  string
	Existing string
	Incoming string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("keyword %q of %s collides with %s", e.Keyword, e.Incoming, e.Existing)
}

// Route - разрешённое ключевое слово.
type Route struct {
	Keyword
	Owner Capability
}

// Options управляют построением реестра.
type Options struct {
	Enabled    []string // пусто = все плагины
	Collisions CollisionPolicy
	SkipStart  bool // только построить и проверить (roombot check)
}

// Registry - таблица маршрутизации ключевых слов.
type Registry struct {
	caps   []Capability
	jobs   map[Capability]*jobTracker
	routes map[string][]Route
	order  []string // порядок регистрации слов, для справки
	log    *zap.Logger
}

// Build создаёт плагины в порядке дескрипторов, собирает их ключевые слова
// и запускает их. Плагин, который не смог создаться или стартовать,
// исключается с записью в лог. Ошибка возвращается только при конфликте
// ключевых слов с политикой reject.
func Build(ctx context.Context, env Env, descs []Descriptor, opts Options) (*Registry, error) {
	env = env.withDefaults()
	log := env.Logger.Named("registry")
	if opts.Collisions == "" {
		opts.Collisions = CollisionReject
	}

	r := &Registry{routes: map[string][]Route{}, jobs: map[Capability]*jobTracker{}, log: log}
	for _, d := range descs {
		if len(opts.Enabled) > 0 && !slices.Contains(opts.Enabled, d.Name) {
			log.Info("Plugin disabled", zap.String("plugin", d.Name))
			continue
		}
		cenv := env
		var tracker *jobTracker
		if env.Scheduler != nil {
			tracker = &jobTracker{Scheduler: env.Scheduler}
			cenv.Scheduler = tracker
		}
		c, err := d.New(cenv)
		if err != nil {
			log.Error("Plugin excluded", zap.String("plugin", d.Name), zap.Error(err))
			continue
		}
		if err := r.register(c, opts.Collisions); err != nil {
			return nil, err
		}
		if tracker != nil {
			r.jobs[c] = tracker
		}
		names := make([]string, 0, len(c.Keywords()))
		for _, kw := range c.Keywords() {
			names = append(names, kw.Name)
		}
		log.Info("Found plugin", zap.String("plugin", c.Name()), zap.Strings("keywords", names))
	}

	if opts.SkipStart {
		return r, nil
	}
	for _, c := range slices.Clone(r.caps) {
		s, ok := c.(Starter)
		if !ok {
			continue
		}
		if err := s.Start(ctx); err != nil {
			log.Error("Plugin failed to start, excluded", zap.String("plugin", c.Name()), zap.Error(err))
			r.remove(c)
			r.dropJobs(c, env.Scheduler)
		}
	}
	return r, nil
}

func (r *Registry) register(c Capability, policy CollisionPolicy) error {
	staged := map[string][]Route{}
	for k, v := range r.routes {
		staged[k] = slices.Clone(v)
	}
	order := slices.Clone(r.order)

	for _, kw := range c.Keywords() {
		if kw.Description == "" {
			kw.Description = DefaultDescription
		}
		incoming := Route{Keyword: kw, Owner: c}

		if slices.Contains(Reserved, kw.Name) {
			cerr := &CollisionError{Keyword: kw.Name, Existing: "bot", Incoming: c.Name()}
			if policy == CollisionReject {
				return cerr
			}
			r.log.Warn("Built-in keyword wins, declaration ignored", zap.Error(cerr))
			continue
		}

		existing := staged[kw.Name]
		if len(existing) == 0 {
			staged[kw.Name] = []Route{incoming}
			order = append(order, kw.Name)
			continue
		}
		i := slices.IndexFunc(existing, func(rt Route) bool { return overlaps(rt.Rooms, kw.Rooms) })
		if i < 0 {
			staged[kw.Name] = append(existing, incoming)
			continue
		}
		if policy == CollisionReject {
			return &CollisionError{Keyword: kw.Name, Existing: existing[i].Owner.Name(), Incoming: c.Name()}
		}
		// заменяются только пересекающиеся маршруты, остальные комнаты не трогаем
		kept := slices.DeleteFunc(existing, func(rt Route) bool {
			if !overlaps(rt.Rooms, kw.Rooms) {
				return false
			}
			r.log.Warn("Keyword overwritten",
				zap.Error(&CollisionError{Keyword: kw.Name, Existing: rt.Owner.Name(), Incoming: c.Name()}),
				zap.Strings("rooms", rt.Rooms))
			return true
		})
		staged[kw.Name] = append(kept, incoming)
	}

	r.routes = staged
	r.order = order
	r.caps = append(r.caps, c)
	return nil
}

// overlaps - две области видимости пересекаются. Пустой список комнат
// означает все комнаты.
func overlaps(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	return slices.ContainsFunc(a, func(room string) bool { return slices.Contains(b, room) })
}

func (r *Registry) remove(c Capability) {
	r.caps = slices.DeleteFunc(r.caps, func(x Capability) bool { return x == c })
	for k, routes := range r.routes {
		routes = slices.DeleteFunc(routes, func(rt Route) bool { return rt.Owner == c })
		if len(routes) == 0 {
			delete(r.routes, k)
			r.order = slices.DeleteFunc(r.order, func(name string) bool { return name == k })
			continue
		}
		r.routes[k] = routes
	}
}

// dropJobs снимает задачи, которые плагин успел поставить до ошибки.
func (r *Registry) dropJobs(c Capability, sched Scheduler) {
	tracker := r.jobs[c]
	delete(r.jobs, c)
	if tracker == nil || len(tracker.names) == 0 {
		return
	}
	rm, ok := sched.(Remover)
	if !ok {
		r.log.Warn("Scheduler cannot remove jobs, they stay registered",
			zap.String("plugin", c.Name()), zap.Strings("jobs", tracker.names))
		return
	}
	for _, name := range tracker.names {
		rm.Remove(name)
	}
	r.log.Info("Jobs removed", zap.String("plugin", c.Name()), zap.Strings("jobs", tracker.names))
}

// Capabilities - загруженные плагины в порядке регистрации.
func (r *Registry) Capabilities() []Capability { return slices.Clone(r.caps) }

// Resolve находит обработчик слова для комнаты.
func (r *Registry) Resolve(keyword, roomID string) (Route, error) {
	routes, ok := r.routes[keyword]
	if !ok {
		return Route{}, ErrNotFound
	}
	for _, rt := range routes {
		if len(rt.Rooms) == 0 || slices.Contains(rt.Rooms, roomID) {
			return rt, nil
		}
	}
	return Route{}, ErrOutOfScope
}

// IsHTML - отвечает ли слово HTML в этой комнате.
func (r *Registry) IsHTML(keyword, roomID string) bool {
	rt, err := r.Resolve(keyword, roomID)
	return err == nil && rt.Format == FormatHTML
}

// Routes - все маршруты в порядке регистрации (для roombot check).
func (r *Registry) Routes() []Route {
	var out []Route
	for _, k := range r.order {
		out = append(out, r.routes[k]...)
	}
	return out
}

// GlobalHelp - список команд, видимых в комнате.
func (r *Registry) GlobalHelp(controlSign, roomID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%shelp [command]\n  Show extended help for command if available. Example: %shelp dates", controlSign, controlSign)
	for _, k := range r.order {
		rt, err := r.Resolve(k, roomID)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n%s%s\n  %s", controlSign, k, rt.Description)
	}
	return b.String()
}

// NoExtendedHelp - ответ, если у плагина нет расширенной справки.
const NoExtendedHelp = "Plugin method has no extended help."

// KeywordHelp - расширенная справка владельца слова.
func (r *Registry) KeywordHelp(keyword, controlSign, roomID string) string {
	rt, err := r.Resolve(keyword, roomID)
	if err != nil {
		return NoExtendedHelp
	}
	h, ok := rt.Owner.(Helper)
	if !ok {
		return NoExtendedHelp
	}
	return h.Help(controlSign, roomID)
}
