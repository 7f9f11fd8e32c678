package config

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Bot - секция "bot".
type Bot struct {
	ControlSign       string        `yaml:"control_sign"`
	Rooms             []string      `yaml:"rooms"`
	WelcomeMessage    string        `yaml:"welcome_message"`
	Transport         string        `yaml:"transport"`
	Capabilities      []string      `yaml:"capabilities,omitempty"`
	KeywordCollisions string        `yaml:"keyword_collisions"`
	Timezone          string        `yaml:"timezone"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	LogFormat         string        `yaml:"log_format"`
}

// Matrix - секция "matrix".
type Matrix struct {
	Homeserver   string `yaml:"homeserver"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	SessionCache string `yaml:"session_cache"`
	DeviceName   string `yaml:"device_name"`
}

// Bridge - секция "bridge" (matterbridge API).
type Bridge struct {
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
}

// Settings - всё глобальное, что нужно до запуска плагинов.
type Settings struct {
	Bot    Bot
	Matrix Matrix
	Bridge Bridge
}

const (
	TransportMatrix = "matrix"
	TransportBridge = "bridge"
)

var botDefaults = map[string]any{
	"welcome_message":    "I'm here to assist you. Try !help to get more information.",
	"transport":          TransportMatrix,
	"keyword_collisions": "reject",
	"timezone":           "Europe/Berlin",
	"http_timeout":       "15s",
	"log_format":         "json",
}

var matrixDefaults = map[string]any{
	"session_cache": "config/cache/matrix-session.json",
	"device_name":   "roombot",
}

// LoadSettings собирает глобальные настройки и проверяет обязательные
// ключи. Любая ошибка здесь фатальна для старта.
func LoadSettings(s *Store) (*Settings, error) {
	botSection := Merge(botDefaults, s.Section(SectionBot))
	if err := Require(SectionBot, botSection, "control_sign", "rooms"); err != nil {
		return nil, err
	}

	var out Settings
	if err := Decode(botSection, &out.Bot); err != nil {
		return nil, fmt.Errorf("section bot: %w", err)
	}
	if _, err := time.LoadLocation(out.Bot.Timezone); err != nil {
		return nil, fmt.Errorf("section bot: invalid timezone %q: %w", out.Bot.Timezone, err)
	}
	switch out.Bot.KeywordCollisions {
	case "reject", "overwrite":
	default:
		return nil, fmt.Errorf("section bot: invalid keyword_collisions %q (must be 'reject' or 'overwrite')", out.Bot.KeywordCollisions)
	}

	switch out.Bot.Transport {
	case TransportMatrix:
		section := Merge(matrixDefaults, s.Section(TransportMatrix))
		if err := Require(TransportMatrix, section, "homeserver", "username", "password"); err != nil {
			return nil, err
		}
		if err := Decode(section, &out.Matrix); err != nil {
			return nil, fmt.Errorf("section matrix: %w", err)
		}
	case TransportBridge:
		section := s.Section(TransportBridge)
		if err := Require(TransportBridge, section, "url", "username"); err != nil {
			return nil, err
		}
		if err := Decode(section, &out.Bridge); err != nil {
			return nil, fmt.Errorf("section bridge: %w", err)
		}
	default:
		return nil, fmt.Errorf("section bot: unknown transport %q (must be 'matrix' or 'bridge')", out.Bot.Transport)
	}
	return &out, nil
}

// Location - часовой пояс бота (проверен в LoadSettings).
func (b Bot) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
