package capability

import (
	"fmt"
	"slices"
)

// Source - общие поля подисточника (лента, календарь, локация, статус).
// Встраивается в структуры конфигурации плагинов через `yaml:",inline"`.
type Source struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name,omitempty"`
	Rooms []string `yaml:"rooms,omitempty"`
}

// Src возвращает сам источник; нужно для обобщённых помощников ниже.
func (s Source) Src() Source { return s }

// Title - имя, а если его нет, то ID.
func (s Source) Title() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Subscribed - комната явно подписана на источник (для анонсов).
func (s Source) Subscribed(room string) bool { return slices.Contains(s.Rooms, room) }

// Visible - источник виден в комнате: подписка или пустой список комнат.
func (s Source) Visible(room string) bool { return len(s.Rooms) == 0 || s.Subscribed(room) }

type sourced interface{ Src() Source }

// Find ищет источник по ID.
func Find[T sourced](items []T, id string) (T, bool) {
	for _, it := range items {
		if it.Src().ID == id {
			return it, true
		}
	}
	var zero T
	return zero, false
}

// VisibleIn - источники, видимые в комнате, в исходном порядке.
func VisibleIn[T sourced](items []T, room string) []T {
	var out []T
	for _, it := range items {
		if it.Src().Visible(room) {
			out = append(out, it)
		}
	}
	return out
}

// IDs - идентификаторы всех источников.
func IDs[T sourced](items []T) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Src().ID)
	}
	return out
}

// CheckIDs проверяет, что у каждого источника есть ID и что ID не повторяются.
// field - имя списка в конфигурации, для сообщения об ошибке.
func CheckIDs[T sourced](field string, items []T) error {
	seen := make(map[string]int, len(items))
	for i, it := range items {
		id := it.Src().ID
		if id == "" {
			return fmt.Errorf("%s[%d] needs id", field, i)
		}
		if j, dup := seen[id]; dup {
			return fmt.Errorf("%s[%d] duplicates id %q of %s[%d]", field, i, id, field, j)
		}
		seen[id] = i
	}
	return nil
}

// Rooms - объединение комнат всех источников без повторов.
func Rooms[T sourced](items []T) []string {
	var out []string
	for _, it := range items {
		for _, r := range it.Src().Rooms {
			if !slices.Contains(out, r) {
				out = append(out, r)
			}
		}
	}
	return out
}

// Scope - область видимости ключевого слова по источникам: если хоть один
// источник без комнат, слово глобальное (nil), иначе объединение комнат.
func Scope[T sourced](items []T) []string {
	for _, it := range items {
		if len(it.Src().Rooms) == 0 {
			return nil
		}
	}
	return Rooms(items)
}
