package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type codec interface {
	unmarshal(data []byte) (map[string]any, error)
	marshal(doc map[string]any) ([]byte, error)
	name() string
}

type yamlCodec struct{}

func (yamlCodec) name() string { return "yaml" }

func (yamlCodec) unmarshal(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return doc, nil
}

func (yamlCodec) marshal(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type tomlCodec struct{}

func (tomlCodec) name() string { return "toml" }

func (tomlCodec) unmarshal(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return doc, nil
}

func (tomlCodec) marshal(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileBackend хранит документ в файле. Запись идёт во временный файл рядом
// с последующим rename, под advisory-локом на <path>.lock.
type FileBackend struct {
	path  string
	codec codec
}

// NewFileBackend - файловый бэкенд с заданным форматом.
func NewFileBackend(path string, c codec) *FileBackend {
	return &FileBackend{path: path, codec: c}
}

func (f *FileBackend) String() string { return f.path }

func (f *FileBackend) Load(context.Context) (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDocumentMissing
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	doc, err := f.codec.unmarshal(data)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return normalize(doc).(map[string]any), nil
}

func (f *FileBackend) Save(_ context.Context, doc map[string]any) error {
	data, err := f.codec.marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.codec.name(), err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	unlock, err := lockFile(f.path + ".lock")
	if err != nil {
		return fmt.Errorf("lock config: %w", err)
	}
	defer unlock()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
