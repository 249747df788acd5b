// Package fieldaccess computes, per repository call site, the transitively
// required aggregate-root field set by depth-first traversal over the
// domain model's method facts.
package fieldaccess

import (
	"context"
	"log"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/morecup/pragmaddd-analyzer/callgraph"
	"github.com/morecup/pragmaddd-analyzer/config"
	"github.com/morecup/pragmaddd-analyzer/domain"
)

// MethodFields pairs one directly invoked aggregate-root method with the
// fields its execution transitively reads.
type MethodFields struct {
	Method domain.MethodSignature
	Fields []string
}

// RequiredFieldSet is the resolution result for one call site. UnionFields
// is always the union of every PerCalledAggregateMethod entry.
type RequiredFieldSet struct {
	CallSite                 callgraph.CallSite
	PerCalledAggregateMethod []MethodFields
	UnionFields              []string
}

// Warning records a truncated resolution branch. Truncation is diagnostic,
// never fatal; the resolved set is an under-approximation for that branch.
type Warning struct {
	CallSiteKey string
	Method      domain.MethodSignature
	Message     string
}

// Resolver resolves required field sets against a fixed domain model.
type Resolver struct {
	model          *domain.Model
	maxDepth       int
	cycleDetection bool
	debug          *log.Logger
}

// NewResolver builds a resolver. The debug logger may be nil.
func NewResolver(model *domain.Model, cfg *config.Config, debug *log.Logger) *Resolver {
	return &Resolver{
		model:          model,
		maxDepth:       cfg.MaxDepth,
		cycleDetection: cfg.CycleDetection,
		debug:          debug,
	}
}

// Resolve computes the required field set for one call site. Each directly
// invoked aggregate-root method gets a fresh visited set, so a method
// reachable from two call sites is resolved independently for each.
func (r *Resolver) Resolve(site callgraph.CallSite, graph *callgraph.Graph) (RequiredFieldSet, []Warning) {
	var warnings []Warning
	out := RequiredFieldSet{CallSite: site}
	union := make(map[string]struct{})

	for _, callee := range graph.CalleesOwnedBy(site.Caller, site.AggregateRoot) {
		visited := make(map[domain.MethodSignature]bool)
		fields := r.requiredFields(callee, visited, 1, site.Key(), &warnings)

		recorded := r.normalize(callee)
		sorted := sortedFields(fields)
		out.PerCalledAggregateMethod = append(out.PerCalledAggregateMethod, MethodFields{
			Method: recorded,
			Fields: sorted,
		})
		for f := range fields {
			union[f] = struct{}{}
		}
	}

	out.UnionFields = sortedFields(union)
	return out, warnings
}

// ResolveAll resolves every call site in parallel. Result order follows the
// input order; warnings are flattened in the same order.
func (r *Resolver) ResolveAll(ctx context.Context, graph *callgraph.Graph, sites []callgraph.CallSite) ([]RequiredFieldSet, []Warning, error) {
	results := make([]RequiredFieldSet, len(sites))
	warnLists := make([][]Warning, len(sites))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, site := range sites {
		i, site := i, site
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i], warnLists[i] = r.Resolve(site, graph)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var warnings []Warning
	for _, ws := range warnLists {
		warnings = append(warnings, ws...)
	}
	return results, warnings, nil
}

// requiredFields is the recursive core. depth is 1-based: the directly
// invoked method sits at depth 1 and a branch is truncated once depth
// exceeds the configured bound.
func (r *Resolver) requiredFields(sig domain.MethodSignature, visited map[domain.MethodSignature]bool, depth int, siteKey string, warnings *[]Warning) map[string]struct{} {
	if depth > r.maxDepth {
		*warnings = append(*warnings, Warning{
			CallSiteKey: siteKey,
			Method:      sig,
			Message:     "max recursion depth exceeded, branch truncated",
		})
		return nil
	}

	sig = r.normalize(sig)
	if r.cycleDetection {
		if visited[sig] {
			if r.debug != nil {
				r.debug.Printf("cycle at %s, truncating", sig)
			}
			return nil
		}
		visited[sig] = true
	}

	fact := r.fact(sig)
	if fact == nil {
		return nil
	}

	result := make(map[string]struct{}, len(fact.ReadProperties))
	for _, p := range fact.ReadProperties {
		result[p] = struct{}{}
	}

	for _, called := range fact.CalledMethods {
		if !r.model.IsDomainType(called.OwningType) {
			continue
		}
		sub := r.requiredFields(called, visited, depth+1, siteKey, warnings)
		if called.OwningType == sig.OwningType {
			for f := range sub {
				result[f] = struct{}{}
			}
			continue
		}
		// Crossing into a related domain type: its plain properties become
		// dotted paths on the current type. Already-dotted paths from
		// deeper crossings are kept one level deep.
		prefix := domain.SimpleName(called.OwningType) + "."
		for f := range sub {
			if strings.Contains(f, ".") {
				result[f] = struct{}{}
			} else {
				result[prefix+f] = struct{}{}
			}
		}
	}
	return result
}

// normalize rewrites a signature to the domain model's descriptor when the
// model knows the method under a unique (owner, name). Source-derived
// pseudo-descriptors otherwise defeat the visited set and fact lookups.
func (r *Resolver) normalize(sig domain.MethodSignature) domain.MethodSignature {
	if r.model.Fact(sig) != nil {
		return sig
	}
	if f := r.model.FactByName(sig.OwningType, sig.Name); f != nil {
		sig.Descriptor = f.Descriptor
	}
	return sig
}

func (r *Resolver) fact(sig domain.MethodSignature) *domain.MethodFact {
	if f := r.model.Fact(sig); f != nil {
		return f
	}
	return r.model.FactByName(sig.OwningType, sig.Name)
}

func sortedFields(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
