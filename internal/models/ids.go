package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// IDFromJSON accepts an identifier encoded either as a JSON string or as a
// JSON number (server-issued ids) and returns its string form.
func IDFromJSON(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid id %s: %w", raw, err)
	}
	return n.String(), nil
}

// NormalizeIDs rewrites numeric "id" and "*_id" fields of a JSON object into
// strings so the payload decodes into a Record.
func NormalizeIDs(data []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	changed := false
	for key, raw := range fields {
		if key != "id" && !strings.HasSuffix(key, "_id") {
			continue
		}
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] == '"' || bytes.Equal(trimmed, []byte("null")) {
			continue
		}
		id, err := IDFromJSON(trimmed)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		quoted, _ := json.Marshal(id)
		fields[key] = quoted
		changed = true
	}

	if !changed {
		return data, nil
	}
	return json.Marshal(fields)
}
