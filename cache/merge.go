package cache

import (
	"sort"

	"github.com/morecup/pragmaddd-analyzer/report"
)

func entryKey(e report.Entry) string {
	return e.AggregateRoot + "\x00" + e.RepositoryMethodKey + "\x00" + e.CallSiteKey
}

// Merge unions entry sets per call-site key. When both sets carry the same
// call site the incremental entry wins; entries only present in the previous
// set are carried over unmodified. Merge is idempotent and order of the
// output is independent of input order.
func Merge(previous, incremental []report.Entry) []report.Entry {
	merged := make(map[string]report.Entry, len(previous)+len(incremental))
	for _, e := range previous {
		merged[entryKey(e)] = e
	}
	for _, e := range incremental {
		merged[entryKey(e)] = e
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]report.Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, merged[k])
	}
	return out
}
