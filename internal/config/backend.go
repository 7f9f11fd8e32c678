package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Backend - носитель документа. Save всегда получает документ целиком.
type Backend interface {
	Load(ctx context.Context) (map[string]any, error)
	Save(ctx context.Context, doc map[string]any) error
	String() string
}

// Open выбирает бэкенд по строке расположения:
//
//	config/config.yaml                    - YAML-файл
//	config/config.toml                    - TOML-файл
//	redis://host:6379/0?key=roombot:config - ключ в Redis
func Open(location string) (Backend, error) {
	if location == "" {
		return nil, fmt.Errorf("empty config location")
	}
	if strings.HasPrefix(location, "redis://") || strings.HasPrefix(location, "rediss://") {
		return NewRedisBackend(location)
	}
	switch strings.ToLower(filepath.Ext(location)) {
	case ".yaml", ".yml":
		return NewFileBackend(location, yamlCodec{}), nil
	case ".toml":
		return NewFileBackend(location, tomlCodec{}), nil
	default:
		return nil, fmt.Errorf("unsupported config format %q (expected .yaml, .yml, .toml or redis://)", filepath.Ext(location))
	}
}
