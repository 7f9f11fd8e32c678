package mowas

import (
	"sort"
	"time"
)

// Warning - элемент ответа NINA /dashboard/{ARS}.json.
type Warning struct {
	ID      string `json:"id"`
	Payload struct {
		Data struct {
			Headline string `json:"headline"`
			Provider string `json:"provider"`
			Severity string `json:"severity"`
			MsgType  string `json:"msgType"`
		} `json:"data"`
	} `json:"payload"`
	I18nTitle map[string]string `json:"i18nTitle"`
	Sent      time.Time         `json:"sent"`
	Onset     *time.Time        `json:"onset,omitempty"`
	Expires   *time.Time        `json:"expires,omitempty"`
}

// Kind - тип предупреждения для фильтров highwater/weather.
type Kind int

const (
	KindOther Kind = iota
	KindHighwater
	KindWeather
)

type provider struct {
	sender   string
	kind     Kind
	severity map[string]string
}

// Названия уровней опасности как в приложении NINA.
var defaultSeverity = map[string]string{
	"Unknown":  "Unbekannt",
	"Minor":    "Warnung",
	"Moderate": "Gefahreninformation",
	"Severe":   "Gefahr",
	"Extreme":  "Extreme Gefahr",
	"Cancel":   "Entwarnung",
}

var providers = map[string]provider{
	"LHP": {
		sender: "Länderübergreifendes Hochwasserportal",
		kind:   KindHighwater,
		severity: map[string]string{
			"Unknown":  "Vorwarnung",
			"Minor":    "Hochwasserwarnung",
			"Moderate": "Hochwasser",
			"Severe":   "Großes Hochwasser",
			"Extreme":  "Extremes Hochwasser",
		},
	},
	"DWD": {
		sender: "Deutscher Wetterdienst",
		kind:   KindWeather,
		severity: map[string]string{
			"Unknown":  "Unbekannt",
			"Minor":    "Wetterwarnung",
			"Moderate": "Markante Wetterwarnung",
			"Severe":   "Unwetterwarnung",
			"Extreme":  "Extreme Unwetterwarnung",
		},
	},
}

var severityColor = map[string]string{
	"Unknown":  "#FFFF00",
	"Minor":    "#FFFF00",
	"Moderate": "#FFA500",
	"Severe":   "#FF0000",
	"Extreme":  "#EE82EE",
	"Cancel":   "#888888",
}

func (w Warning) kind() Kind {
	if p, ok := providers[w.Payload.Data.Provider]; ok {
		return p.kind
	}
	return KindOther
}

func (w Warning) sender() string {
	if p, ok := providers[w.Payload.Data.Provider]; ok {
		return p.sender
	}
	return w.Payload.Data.Provider
}

// severity - ключ уровня; отмена считается отдельным уровнем.
func (w Warning) severity() string {
	if w.Payload.Data.MsgType == "Cancel" {
		return "Cancel"
	}
	if _, ok := severityColor[w.Payload.Data.Severity]; ok {
		return w.Payload.Data.Severity
	}
	return "Unknown"
}

func (w Warning) severityName() string {
	sev := w.severity()
	if p, ok := providers[w.Payload.Data.Provider]; ok {
		if name, ok := p.severity[sev]; ok {
			return name
		}
	}
	return defaultSeverity[sev]
}

func sortNewestFirst(ws []Warning) {
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Sent.After(ws[j].Sent) })
}
