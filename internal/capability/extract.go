package capability

import (
	"encoding/json"
	"strings"
)

// Extract walks a dotted path through a decoded JSON payload.
//
// It returns false when any segment is missing or an intermediate value is
// not an object. A present JSON null counts as missing. Extract never
// substitutes a zero value, so a real reading of 0 is distinguishable from
// an absent one.
func Extract(path string, payload map[string]any) (any, bool) {
	if path == "" || payload == nil {
		return nil, false
	}

	var current any = payload
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, present := obj[segment]
		if !present || next == nil {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Extract resolves the descriptor's path and converts the raw value to the
// descriptor's kind. A value of the wrong shape is reported as not found.
func (d Descriptor) Extract(payload map[string]any) (any, bool) {
	raw, ok := Extract(d.Path, payload)
	if !ok {
		return nil, false
	}
	return d.Convert(raw)
}

// Convert coerces a raw JSON value into the typed representation for the
// descriptor's kind: float64 for numbers, string for enums and []Program
// for schedules.
func (d Descriptor) Convert(raw any) (any, bool) {
	switch d.Kind {
	case KindNumber:
		return toNumber(raw)
	case KindEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, false
		}
		if len(d.Values) > 0 && !contains(d.Values, s) {
			return nil, false
		}
		return s, true
	case KindSchedule:
		return toPrograms(raw)
	default:
		return nil, false
	}
}

func toNumber(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// toPrograms accepts the thermostat "therm_program_list" shape, a list of
// objects carrying program_id, name and an optional selected flag.
func toPrograms(raw any) ([]Program, bool) {
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}

	programs := make([]Program, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		id, _ := obj["program_id"].(string)
		if id == "" {
			return nil, false
		}
		name, _ := obj["name"].(string)
		selected, _ := obj["selected"].(bool)
		programs = append(programs, Program{ID: id, Name: name, Selected: selected})
	}
	return programs, true
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
