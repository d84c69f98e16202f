// ABOUTME: Payload field extraction for inbound controller envelopes
// ABOUTME: Strict lookups so malformed pushes surface as client errors

package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/cardea-console/internal/model"
)

// object decodes data as a JSON object of raw fields.
func object(data json.RawMessage) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("payload is null")
	}
	return m, nil
}

// field returns data.path, following dotted segments.
func field(data json.RawMessage, path string) (json.RawMessage, error) {
	cur := data
	for _, seg := range strings.Split(path, ".") {
		m, err := object(cur)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		next, ok := m[seg]
		if !ok {
			return nil, fmt.Errorf("reading %s: missing field %q", path, seg)
		}
		cur = next
	}
	return cur, nil
}

// optional is field without the missing-field error.
func optional(data json.RawMessage, path string) json.RawMessage {
	raw, err := field(data, path)
	if err != nil {
		return nil
	}
	return raw
}

func records(data json.RawMessage, path string) ([]model.Record, error) {
	raw, err := field(data, path)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, fmt.Errorf("reading %s: null list", path)
	}
	recs, err := model.DecodeRecords(raw)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return recs, nil
}

func record(data json.RawMessage, path string) (model.Record, error) {
	raw, err := field(data, path)
	if err != nil {
		return nil, err
	}
	var recs []model.Record
	if err := decodeNumbers(raw, &recs); err == nil {
		if len(recs) == 0 {
			return nil, fmt.Errorf("reading %s: empty list", path)
		}
		return recs[0], nil
	}
	var rec model.Record
	if err := decodeNumbers(raw, &rec); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rec, nil
}

func decodeNumbers(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// text renders a payload value for display: JSON strings unquoted, null as
// empty, anything else as compact JSON.
func text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func clone(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
