// Package analytics summarises dispatched actions for the status report.
package analytics

import (
	"sort"
	"time"

	"beacon/internal/audit"
)

// HourlyActivity buckets successful dispatches at or after since into UTC
// hours, counting per action type.
func HourlyActivity(records []audit.Record, since time.Time) map[time.Time]map[string]int {
	buckets := make(map[time.Time]map[string]int)
	for _, r := range records {
		if r.Outcome != audit.Dispatched || r.At.Before(since) {
			continue
		}
		key := r.At.UTC().Truncate(time.Hour)
		if _, ok := buckets[key]; !ok {
			buckets[key] = make(map[string]int)
		}
		buckets[key][string(r.Action.Type)]++
	}
	return buckets
}

// SortedBucketKeys returns sorted hour keys.
func SortedBucketKeys(m map[time.Time]map[string]int) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}
