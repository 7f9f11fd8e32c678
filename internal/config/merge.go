package config

import "fmt"

// Merge возвращает новый документ: overrides поверх defaults.
// Вложенные мапы сливаются рекурсивно, всё остальное (в том числе списки)
// заменяется целиком. Аргументы не изменяются.
func Merge(defaults, overrides map[string]any) map[string]any {
	out := Clone(defaults)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range overrides {
		src, srcIsMap := v.(map[string]any)
		dst, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = Merge(dst, src)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Clone - глубокая копия документа.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// normalize приводит результат разных декодеров к одному виду:
// map[string]any и []any на всех уровнях. TOML отдаёт []map[string]any
// для массивов таблиц, YAML иногда map[any]any.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			t[k] = normalize(x)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[fmt.Sprint(k)] = normalize(x)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	default:
		return v
	}
}
