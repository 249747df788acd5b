package report

import "sort"

// Lookup answers projection queries against a loaded document. All queries
// are in-memory reads; a query with no matching entry returns the empty set
// so the caller falls back to a full projection.
type Lookup struct {
	doc *Document

	// unionByRoot is precomputed so the context-free query stays a single
	// map read regardless of document size.
	unionByRoot map[string][]string
}

// NewLookup indexes a document for queries.
func NewLookup(doc *Document) *Lookup {
	l := &Lookup{doc: doc, unionByRoot: make(map[string][]string)}
	for root, byMethod := range doc.Aggregates {
		set := make(map[string]struct{})
		for _, bySite := range byMethod {
			for _, rec := range bySite {
				for _, f := range rec.RequiredFields {
					set[f] = struct{}{}
				}
			}
		}
		fields := make([]string, 0, len(set))
		for f := range set {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		l.unionByRoot[root] = fields
	}
	return l
}

// LoadLookup reads a document from disk and indexes it.
func LoadLookup(path string) (*Lookup, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewLookup(doc), nil
}

// RequiredFields returns the union of required fields across every call
// site of the aggregate root. The returned slice is the caller's to keep.
func (l *Lookup) RequiredFields(aggregateRoot string) []string {
	fields, ok := l.unionByRoot[aggregateRoot]
	if !ok {
		return []string{}
	}
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// RequiredFieldsAt returns the required fields for call sites matching the
// caller type, caller method, and repository method name. Several source
// ranges of the same caller may match; their fields are unioned.
func (l *Lookup) RequiredFieldsAt(aggregateRoot, callerType, callerMethod, repositoryMethod string) []string {
	byMethod, ok := l.doc.Aggregates[aggregateRoot]
	if !ok {
		return []string{}
	}

	set := make(map[string]struct{})
	for _, bySite := range byMethod {
		for _, rec := range bySite {
			if rec.RepositoryMethod != repositoryMethod ||
				rec.MethodClass != callerType || rec.Method != callerMethod {
				continue
			}
			for _, f := range rec.RequiredFields {
				set[f] = struct{}{}
			}
		}
	}

	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
