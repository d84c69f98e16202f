// ABOUTME: Loosely typed domain records pushed by the controller
// ABOUTME: Extracts identifier and creation timestamp fields for reconciliation

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is one server-pushed domain object (contact, user, role,
// credential, presentation report). The controller owns the schema, so the
// console keeps records as decoded JSON objects.
type Record map[string]any

// DecodeRecords decodes a JSON array of objects. Numbers are kept as
// json.Number so identifiers round-trip exactly.
func DecodeRecords(raw json.RawMessage) ([]Record, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var out []Record
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	return out, nil
}

// Key returns the record's identifier under field, normalised to a string.
// Missing, null and non-scalar identifiers report ok=false.
func (r Record) Key(field string) (string, bool) {
	if r == nil {
		return "", false
	}
	switch v := r[field].(type) {
	case string:
		return "s:" + v, true
	case json.Number:
		return "n:" + normaliseNumber(v.String()), true
	case float64:
		return "n:" + strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return "n:" + strconv.Itoa(v), true
	case int64:
		return "n:" + strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

// String returns a display string for a scalar field.
func (r Record) String(field string) string {
	if r == nil {
		return ""
	}
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Clone copies the top level of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Timestamp extracts a sortable creation timestamp.
func (r Record) Timestamp(field string) (Timestamp, bool) {
	if r == nil {
		return Timestamp{}, false
	}
	switch v := r[field].(type) {
	case string:
		return Timestamp{text: v}, true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Timestamp{text: v.String()}, true
		}
		return Timestamp{num: f, numeric: true}, true
	case float64:
		return Timestamp{num: v, numeric: true}, true
	case int:
		return Timestamp{num: float64(v), numeric: true}, true
	case int64:
		return Timestamp{num: float64(v), numeric: true}, true
	default:
		return Timestamp{}, false
	}
}

// Timestamp is a creation time as sent by the controller: either an epoch
// number or an ISO-8601 string. ISO strings in one format order
// lexicographically.
type Timestamp struct {
	num     float64
	text    string
	numeric bool
}

// Compare returns -1, 0 or 1. Numeric values sort before text values.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.numeric && o.numeric:
		switch {
		case t.num < o.num:
			return -1
		case t.num > o.num:
			return 1
		}
		return 0
	case t.numeric:
		return -1
	case o.numeric:
		return 1
	}
	switch {
	case t.text < o.text:
		return -1
	case t.text > o.text:
		return 1
	}
	return 0
}

func normaliseNumber(s string) string {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return s
}
