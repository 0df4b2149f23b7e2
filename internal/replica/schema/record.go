package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DefaultIDField is the stable identifier field of remote records.
const DefaultIDField = "id"

// Record is one entity of a synchronized collection.
// Data holds the entity exactly as the remote store returned it.
type Record struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Validate checks that the record can be stored in a Snapshot.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("record %s: data is required", r.ID)
	}
	if !json.Valid(r.Data) {
		return fmt.Errorf("record %s: data is not valid JSON", r.ID)
	}
	return nil
}

// Snapshot is the full local copy of one synchronized collection.
type Snapshot struct {
	Records []Record `json:"records"`
	Version Marker   `json:"version"`
}

// Len returns the number of records.
func (s Snapshot) Len() int {
	return len(s.Records)
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Version: s.Version, Records: make([]Record, len(s.Records))}
	for i, r := range s.Records {
		out.Records[i] = Record{ID: r.ID, Data: append(json.RawMessage(nil), r.Data...)}
	}
	return out
}

// Sorted returns a copy whose records are ordered by ID.
func (s Snapshot) Sorted() Snapshot {
	out := s.Clone()
	sort.SliceStable(out.Records, func(i, j int) bool {
		return out.Records[i].ID < out.Records[j].ID
	})
	return out
}

// Find returns the record with the given ID.
func (s Snapshot) Find(id string) (Record, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Upsert returns a sorted copy with rec inserted or replaced.
// The version is left unchanged; callers stamp the result.
func (s Snapshot) Upsert(rec Record) Snapshot {
	out := s.Clone()
	replaced := false
	for i := range out.Records {
		if out.Records[i].ID == rec.ID {
			out.Records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		out.Records = append(out.Records, rec)
	}
	return out.Sorted()
}

// Canonical returns the byte form used to compare record content.
// Records are ordered by ID and each object is re-encoded with sorted keys,
// so two snapshots with the same content produce identical bytes regardless
// of field order or whitespace. The version is not part of the canonical form.
func (s Snapshot) Canonical() []byte {
	sorted := s.Sorted()
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range sorted.Records {
		if i > 0 {
			buf.WriteByte(',')
		}
		id, _ := json.Marshal(r.ID)
		buf.Write(id)
		buf.WriteByte(':')
		buf.Write(canonicalJSON(r.Data))
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func canonicalJSON(raw json.RawMessage) []byte {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err != nil {
			return raw
		}
		return compact.Bytes()
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// DecodeRecords converts a remote response body into records keyed by idField.
//
// The body may be a JSON array of objects, or an object wrapping that array
// under "items", "data" or "records" (or any single array-valued member).
// String and numeric identifiers are both accepted.
func DecodeRecords(body []byte, idField string) ([]Record, error) {
	if idField == "" {
		idField = DefaultIDField
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var items []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	case '{':
		arr, err := unwrapArray(body)
		if err != nil {
			return nil, err
		}
		items = arr
	default:
		return nil, fmt.Errorf("%w: expected array or object", ErrMalformedResponse)
	}

	records := make([]Record, 0, len(items))
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		rec, err := decodeRecord(item, idField)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrMalformedResponse, i, err)
		}
		if seen[rec.ID] {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrMalformedResponse, rec.ID)
		}
		seen[rec.ID] = true
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// DecodeRecord converts a single remote object into a Record.
func DecodeRecord(body []byte, idField string) (Record, error) {
	if idField == "" {
		idField = DefaultIDField
	}
	rec, err := decodeRecord(bytes.TrimSpace(body), idField)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return rec, nil
}

func unwrapArray(body []byte) ([]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	for _, key := range []string{"items", "data", "records"} {
		if raw, ok := obj[key]; ok {
			var arr []json.RawMessage
			if err := json.Unmarshal(raw, &arr); err == nil {
				return arr, nil
			}
		}
	}

	var found []json.RawMessage
	matches := 0
	for _, raw := range obj {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '[' {
			continue
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			continue
		}
		found = arr
		matches++
	}
	if matches != 1 {
		return nil, fmt.Errorf("%w: object does not wrap a single record array", ErrMalformedResponse)
	}
	return found, nil
}

func decodeRecord(item json.RawMessage, idField string) (Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return Record{}, fmt.Errorf("not an object: %v", err)
	}
	if fields == nil {
		return Record{}, fmt.Errorf("not an object")
	}

	raw, ok := fields[idField]
	if !ok {
		return Record{}, fmt.Errorf("missing %q field", idField)
	}
	id, err := idString(raw)
	if err != nil {
		return Record{}, fmt.Errorf("field %q: %v", idField, err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, item); err != nil {
		return Record{}, err
	}
	return Record{ID: id, Data: compact.Bytes()}, nil
}

func idString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", fmt.Errorf("empty identifier")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("empty identifier")
		}
		return s, nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("identifier must be a string or number")
		}
		return n.String(), nil
	}
}
