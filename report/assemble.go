package report

import (
	"github.com/morecup/pragmaddd-analyzer/cas"
	"github.com/morecup/pragmaddd-analyzer/fieldaccess"
)

// Entry is one assembled call-site record together with its position in the
// document and the artifact it came from. Entries are what the incremental
// cache stores per artifact; a document is just entries reshaped.
type Entry struct {
	AggregateRoot       string          `json:"aggregateRoot"`
	RepositoryMethodKey string          `json:"repositoryMethodKey"`
	CallSiteKey         string          `json:"callSiteKey"`
	ArtifactPath        string          `json:"artifactPath"`
	Record              *CallSiteRecord `json:"record"`
}

// Assembler reshapes resolution results into the output document. The clock
// stamps assembled documents; it defaults to wall time and is injected so
// determinism can be tested with a fixed value.
type Assembler struct {
	clock func() int64
}

// NewAssembler builds an assembler. A nil clock means wall time.
func NewAssembler(clock func() int64) *Assembler {
	if clock == nil {
		clock = cas.NowMs
	}
	return &Assembler{clock: clock}
}

// Entries converts resolution results into document entries, one per call
// site. Conversion is purely a reshaping step.
func (a *Assembler) Entries(results []fieldaccess.RequiredFieldSet) []Entry {
	entries := make([]Entry, 0, len(results))
	for _, r := range results {
		site := r.CallSite

		called := make([]AggregateMethodFields, 0, len(r.PerCalledAggregateMethod))
		for _, mf := range r.PerCalledAggregateMethod {
			called = append(called, AggregateMethodFields{
				AggregateRootMethod:           mf.Method.Name,
				AggregateRootMethodDescriptor: mf.Method.Descriptor,
				RequiredFields:                nonNil(mf.Fields),
			})
		}

		entries = append(entries, Entry{
			AggregateRoot:       site.AggregateRoot,
			RepositoryMethodKey: site.RepositoryMethod.Name + site.RepositoryMethod.Descriptor,
			CallSiteKey:         site.Key(),
			ArtifactPath:        site.ArtifactPath,
			Record: &CallSiteRecord{
				MethodClass:                site.Caller.OwningType,
				Method:                     site.Caller.Name,
				MethodDescriptor:           site.Caller.Descriptor,
				Repository:                 site.RepositoryType,
				RepositoryMethod:           site.RepositoryMethod.Name,
				RepositoryMethodDescriptor: site.RepositoryMethod.Descriptor,
				AggregateRoot:              site.AggregateRoot,
				CalledAggregateRootMethods: called,
				RequiredFields:             nonNil(r.UnionFields),
			},
		})
	}
	return entries
}

// Assemble groups entries into the nested document. Every entry lands
// exactly once; a later entry for an identical call-site path replaces the
// earlier one, matching the cache's last-write-wins merge.
func (a *Assembler) Assemble(entries []Entry) *Document {
	doc := &Document{
		Version:    SchemaVersion,
		Timestamp:  a.clock(),
		Aggregates: make(map[string]map[string]map[string]*CallSiteRecord),
	}
	for _, e := range entries {
		byMethod, ok := doc.Aggregates[e.AggregateRoot]
		if !ok {
			byMethod = make(map[string]map[string]*CallSiteRecord)
			doc.Aggregates[e.AggregateRoot] = byMethod
		}
		bySite, ok := byMethod[e.RepositoryMethodKey]
		if !ok {
			bySite = make(map[string]*CallSiteRecord)
			byMethod[e.RepositoryMethodKey] = bySite
		}
		bySite[e.CallSiteKey] = e.Record
	}
	return doc
}

func nonNil(fields []string) []string {
	if fields == nil {
		return []string{}
	}
	return fields
}
