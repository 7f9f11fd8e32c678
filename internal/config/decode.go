package config

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Decode раскладывает мапу в типизированную структуру (yaml-теги).
func Decode(m map[string]any, out any) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode section: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode section: %w", err)
	}
	return nil
}

// Encode - обратная операция: структура -> мапа для Store.Set.
func Encode(in any) (map[string]any, error) {
	data, err := yaml.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode section: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode section: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return normalize(m).(map[string]any), nil
}

// Lookup ищет значение по пути через точку ("format.datetime").
func Lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = mm[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Require проверяет обязательные ключи и возвращает все пропущенные
// разом (errors.Join из *MissingKeyError).
func Require(owner string, m map[string]any, keys ...string) error {
	var errs []error
	for _, k := range keys {
		if _, ok := Lookup(m, k); !ok {
			errs = append(errs, &MissingKeyError{Owner: owner, Key: k})
		}
	}
	return errors.Join(errs...)
}
