// Package callgraph builds the method-to-method invocation graph from
// compiled artifacts and identifies every call site that invokes a resolved
// repository's read method.
package callgraph

import (
	"fmt"
	"sort"

	"github.com/morecup/pragmaddd-analyzer/domain"
)

// MethodCallEdge is one observed invocation relationship. The graph is a
// plain directed edge set; cycles are expected and handled by the resolver,
// not here.
type MethodCallEdge struct {
	From domain.MethodSignature
	To   domain.MethodSignature
}

// SourceRange is a 1-based inclusive line range.
type SourceRange struct {
	StartLine int
	EndLine   int
}

// CallSite is one located invocation of a repository read method. Range is
// the caller method's source range; when one caller invokes the same
// repository method several times, each extra site carries its own
// invocation range instead, and a stable ordinal when no line info is
// derivable at all.
type CallSite struct {
	Caller           domain.MethodSignature
	Range            *SourceRange
	Ordinal          int
	RepositoryType   string
	RepositoryMethod domain.MethodSignature
	AggregateRoot    string

	// ArtifactPath is the artifact the caller was loaded from; the
	// incremental cache partitions results by it.
	ArtifactPath string
}

// Key renders the caller-site key used throughout the output document:
// "<callerType>.<callerMethod>+<startLine>-<endLine>", with an ordinal
// form when no range is derivable.
func (cs CallSite) Key() string {
	base := cs.Caller.OwningType + "." + cs.Caller.Name
	if cs.Range != nil {
		return fmt.Sprintf("%s+%d-%d", base, cs.Range.StartLine, cs.Range.EndLine)
	}
	return fmt.Sprintf("%s+#%d", base, cs.Ordinal)
}

// Graph is the built call graph. It is immutable once Build returns.
type Graph struct {
	edges map[MethodCallEdge]struct{}
	sites []CallSite
}

// Edges returns every invocation edge, sorted for deterministic iteration.
func (g *Graph) Edges() []MethodCallEdge {
	out := make([]MethodCallEdge, 0, len(g.edges))
	for e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From.String() < out[j].From.String()
		}
		return out[i].To.String() < out[j].To.String()
	})
	return out
}

// RepositoryCallSites returns every repository call site in artifact order.
func (g *Graph) RepositoryCallSites() []CallSite {
	out := make([]CallSite, len(g.sites))
	copy(out, g.sites)
	return out
}

// CalleesOwnedBy returns the methods owned by the given type that the
// caller invokes directly, deduplicated and sorted.
func (g *Graph) CalleesOwnedBy(caller domain.MethodSignature, owner string) []domain.MethodSignature {
	seen := make(map[domain.MethodSignature]struct{})
	var out []domain.MethodSignature
	for e := range g.edges {
		if e.From != caller || e.To.OwningType != owner {
			continue
		}
		if _, dup := seen[e.To]; dup {
			continue
		}
		seen[e.To] = struct{}{}
		out = append(out, e.To)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
