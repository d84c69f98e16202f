// ABOUTME: Console theme values and the built-in default palette
// ABOUTME: Themes are flat key/value maps pushed by SETTINGS_THEME

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// Theme maps a style key (primary_color, border, ...) to a CSS value.
type Theme map[string]string

// DefaultTheme returns the palette used before the controller answers and
// when no persisted theme exists.
func DefaultTheme() Theme {
	return Theme{
		"primary_color":        "#386992",
		"secondary_color":      "#4E556F",
		"neutral_color":        "#091C40",
		"negative_color":       "#ed003c",
		"warning_color":        "#e49b13",
		"positive_color":       "#008a00",
		"text_color":           "#555",
		"text_light":           "#fff",
		"border":               "#e3e3e3",
		"drop_shadow":          "3px 3px 3px rgba(0, 0, 0, 0.3)",
		"background_primary":   "#fff",
		"background_secondary": "#f5f5f5",
	}
}

// Clone returns an independent copy.
func (t Theme) Clone() Theme {
	if t == nil {
		return nil
	}
	return maps.Clone(t)
}

// Merge returns a copy of t with update applied on top.
func (t Theme) Merge(update Theme) Theme {
	out := t.Clone()
	if out == nil {
		out = Theme{}
	}
	maps.Copy(out, update)
	return out
}

// DecodeTheme reads a theme object. String values are kept as is; numbers,
// booleans and nested values keep their JSON text and null values are
// skipped. A null theme decodes to nil without error.
func DecodeTheme(raw json.RawMessage) (Theme, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decoding theme: %w", err)
	}
	theme := make(Theme, len(fields))
	for key, val := range fields {
		val = bytes.TrimSpace(val)
		switch {
		case bytes.Equal(val, []byte("null")):
			continue
		case len(val) > 0 && val[0] == '"':
			var str string
			if err := json.Unmarshal(val, &str); err != nil {
				return nil, fmt.Errorf("decoding theme %s: %w", key, err)
			}
			theme[key] = str
		default:
			theme[key] = string(val)
		}
	}
	return theme, nil
}
