// Package config - хранилище конфигурации бота: один документ (YAML, TOML
// или ключ в Redis) с секцией "bot", секциями транспортов и секцией
// "plugins". Документ читается один раз при старте и всегда записывается
// целиком.
//
// Store создаётся в main и передаётся компонентам явно:
//
//	backend, _ := config.Open("config/config.yaml")
//	store, err := config.Load(ctx, backend, logger)
//	rss := store.Get("rss")                         // копия, никогда не nil
//	_, err = store.Set(ctx, "rss", map[string]any{...}) // deep-merge + запись
package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	// SectionBot - обязательная глобальная секция.
	SectionBot = "bot"
	// SectionPlugins - секция с настройками плагинов, ключ = имя плагина.
	SectionPlugins = "plugins"
)

// Store держит документ в памяти и сериализует запись.
type Store struct {
	mu      sync.Mutex
	backend Backend
	doc     map[string]any
	log     *zap.Logger
}

// Load читает документ из бэкенда. Отсутствие документа или секции "bot" -
// фатальная ошибка старта.
func Load(ctx context.Context, backend Backend, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	doc, err := backend.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrDocumentMissing) {
			return nil, fmt.Errorf("no configuration found at %s: %w", backend, err)
		}
		return nil, fmt.Errorf("failed to load config from %s: %w", backend, err)
	}
	if section, ok := doc[SectionBot].(map[string]any); !ok || section == nil {
		return nil, &MissingKeyError{Owner: "config", Key: SectionBot}
	}
	log.Info("Configuration loaded", zap.String("backend", backend.String()))
	return &Store{backend: backend, doc: doc, log: log}, nil
}

// NewMemory - хранилище поверх уже готового документа (для тестов и check).
func NewMemory(backend Backend, doc map[string]any) *Store {
	if doc == nil {
		doc = map[string]any{}
	}
	return &Store{backend: backend, doc: Clone(doc), log: zap.NewNop()}
}

// Backend - описание бэкенда для логов.
func (s *Store) Backend() string { return s.backend.String() }

// Section возвращает копию секции верхнего уровня или пустую мапу.
func (s *Store) Section(name string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.doc[name].(map[string]any); ok {
		return Clone(m)
	}
	return map[string]any{}
}

// Get - сохранённые настройки плагина (копия). Никогда не возвращает nil.
func (s *Store) Get(plugin string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	plugins, _ := s.doc[SectionPlugins].(map[string]any)
	if m, ok := plugins[plugin].(map[string]any); ok {
		return Clone(m)
	}
	return map[string]any{}
}

// Set вливает data в секцию плагина и записывает весь документ.
// При ошибке записи документ в памяти остаётся прежним, а вызывающий
// получает *PersistenceError.
func (s *Store) Set(ctx context.Context, plugin string, data map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Clone(s.doc)
	plugins, _ := next[SectionPlugins].(map[string]any)
	if plugins == nil {
		plugins = map[string]any{}
		next[SectionPlugins] = plugins
	}
	current, _ := plugins[plugin].(map[string]any)
	merged := Merge(current, data)
	plugins[plugin] = merged

	if err := s.backend.Save(ctx, next); err != nil {
		s.log.Error("Config write failed", zap.String("plugin", plugin), zap.Error(err))
		return nil, &PersistenceError{Backend: s.backend.String(), Err: err}
	}
	s.doc = next
	s.log.Debug("Config written", zap.String("plugin", plugin))
	return Clone(merged), nil
}

// Document - копия всего документа (для migrate).
func (s *Store) Document() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Clone(s.doc)
}
