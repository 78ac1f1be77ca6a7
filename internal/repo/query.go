package repo

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/hrsync/internal/ir"
)

// Query shapes the result of GetAll. Stages run in order: filter, sort, limit.
// A nil *Query returns every record.
type Query struct {
	// Filter keeps records for which it returns true. Nil keeps everything.
	Filter func(ir.Record) bool

	// Less orders records. The sort is stable. Nil keeps id order.
	Less func(a, b ir.Record) bool

	// Limit truncates the result when greater than zero.
	Limit int
}

func (q *Query) apply(records []ir.Record) []ir.Record {
	if q == nil {
		return records
	}

	if q.Filter != nil {
		kept := records[:0]
		for _, rec := range records {
			if q.Filter(rec) {
				kept = append(kept, rec)
			}
		}
		records = kept
	}

	if q.Less != nil {
		sort.SliceStable(records, func(i, j int) bool {
			return q.Less(records[i], records[j])
		})
	}

	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}
	return records
}

// ParseQuery builds a Query from command-line style arguments.
//
// Each where clause has the form field=value and matches when the field's
// string form equals value; all clauses must match. orderBy names a field
// compared numerically when both sides are numbers and as strings otherwise;
// records missing the field sort first.
//
// Strings are compared in NFC form, so "José" typed at a terminal matches a
// stored decomposed "José". Stored records are not changed.
func ParseQuery(where []string, orderBy string, desc bool, limit int) (*Query, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit must not be negative")
	}

	type clause struct{ field, value string }
	clauses := make([]clause, 0, len(where))
	for _, w := range where {
		field, value, ok := strings.Cut(w, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid where clause %q: want field=value", w)
		}
		clauses = append(clauses, clause{field, norm.NFC.String(value)})
	}

	q := &Query{Limit: limit}

	if len(clauses) > 0 {
		q.Filter = func(rec ir.Record) bool {
			for _, c := range clauses {
				v, ok := rec[c.field]
				if !ok || norm.NFC.String(fieldString(v)) != c.value {
					return false
				}
			}
			return true
		}
	}

	if orderBy != "" {
		q.Less = func(a, b ir.Record) bool {
			if desc {
				return compareFields(b[orderBy], a[orderBy]) < 0
			}
			return compareFields(a[orderBy], b[orderBy]) < 0
		}
	}

	return q, nil
}

// ByField returns a comparator ordering records by a field, ascending.
func ByField(field string) func(a, b ir.Record) bool {
	return func(a, b ir.Record) bool {
		return compareFields(a[field], b[field]) < 0
	}
}

func fieldString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func fieldNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}

// compareFields returns -1, 0 or 1. Missing values sort first.
func compareFields(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if fa, ok := fieldNumber(a); ok {
		if fb, ok := fieldNumber(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}

	return strings.Compare(norm.NFC.String(fieldString(a)), norm.NFC.String(fieldString(b)))
}
