package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is any server entity. The data layer only interprets "id".
type Record map[string]any

// ID returns the record's id field when it is a non-empty string.
func (r Record) ID() (string, bool) {
	if r == nil {
		return "", false
	}
	id, ok := r["id"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Clone returns a shallow copy of the record.
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

// Merge returns a copy of r with every field of partial applied on top.
// Fields absent from partial keep their current value.
func (r Record) Merge(partial Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(partial))
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// DecodeRecord parses a JSON object into a Record.
// Numbers are kept as json.Number so amounts survive without float drift.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("decode record: not a JSON object")
	}
	return rec, nil
}

// DecodeRecords parses a JSON array of objects.
func DecodeRecords(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var recs []Record
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}
