// Package audit implements the audit trail capture engine. Every tracked
// mutation writes an immutable entry describing who did what to which record,
// with before/after snapshots of the row. Entries are written in the same
// database transaction as the mutation they describe, so a mutation whose
// entry cannot be persisted does not happen at all. The trail is intentionally
// separate from application logs: application logs are ephemeral debug output
// consumed by on-call engineers, while the trail is an immutable record
// consumed by aviation authority inspectors and subject to compliance
// retention policies measured in years.
package audit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Values is a normalized snapshot of a record at a point in time. Snapshots
// are produced by a JSON round-trip so that stored before/after values compare
// consistently regardless of the Go type they came from (time.Time becomes an
// RFC 3339 string, int64 becomes float64, and so on).
type Values map[string]interface{}

// Snapshot converts an arbitrary record into a normalized Values map. Fields
// that cannot be represented in JSON are coerced to their string form; the
// names of coerced fields are returned so callers can note the lossy
// conversion in entry metadata.
func Snapshot(record interface{}) (Values, []string, error) {
	if record == nil {
		return nil, nil, nil
	}

	var coerced []string

	// Maps get per-key treatment so one bad value does not reject the whole
	// snapshot.
	if m, ok := record.(map[string]interface{}); ok {
		out := make(Values, len(m))
		for k, v := range m {
			data, err := json.Marshal(v)
			if err != nil {
				out[k] = fmt.Sprintf("%v", v)
				coerced = append(coerced, k)
				continue
			}
			var norm interface{}
			if err := json.Unmarshal(data, &norm); err != nil {
				return nil, nil, fmt.Errorf("failed to normalize field %q: %w", k, err)
			}
			out[k] = norm
		}
		sort.Strings(coerced)
		return out, coerced, nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to snapshot record: %w", err)
	}

	var out Values
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, nil, fmt.Errorf("failed to normalize record: %w", err)
	}

	return out, nil, nil
}

// Diff returns the sorted names of fields present in BOTH snapshots whose
// values differ. Fields that only exist on one side are not changes; they are
// creations or deletions, visible in the snapshots themselves.
func Diff(before, after Values) []string {
	if before == nil || after == nil {
		return nil
	}

	var changed []string
	for k, bv := range before {
		av, ok := after[k]
		if !ok {
			continue
		}
		if !reflect.DeepEqual(bv, av) {
			changed = append(changed, k)
		}
	}

	sort.Strings(changed)
	return changed
}
