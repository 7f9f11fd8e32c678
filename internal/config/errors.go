package config

import (
	"errors"
	"fmt"
)

// ErrDocumentMissing - бэкенд не нашёл документ конфигурации.
var ErrDocumentMissing = errors.New("config document missing")

// MissingKeyError - обязательный ключ отсутствует. Owner - секция или
// плагин, которому ключ нужен ("bot", "matrix", "rss", ...).
type MissingKeyError struct {
	Owner string
	Key   string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("configcheck: [%s] key %s missing", e.Owner, e.Key)
}

// PersistenceError - документ не удалось записать в бэкенд.
type PersistenceError struct {
	Backend string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist config to %s: %v", e.Backend, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
