package callgraph

import (
	"context"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/morecup/pragmaddd-analyzer/artifact"
	"github.com/morecup/pragmaddd-analyzer/domain"
	"github.com/morecup/pragmaddd-analyzer/repomatch"
)

// SkippedArtifact records an artifact that could not be loaded. Skips are
// warnings by default; the caller decides whether they are fatal.
type SkippedArtifact struct {
	Path string
	Err  error
}

type readMethod struct {
	sig            domain.MethodSignature
	repositoryType string
	aggregateRoot  string
}

// Builder constructs call graphs against a fixed set of repository mappings.
type Builder struct {
	// readIndex maps "<owner>\x00<name>" to the read methods declared
	// under that key. Descriptors are compared lazily so source-derived
	// pseudo-descriptors and missing descriptors still match.
	readIndex map[string][]readMethod
	debug     *log.Logger
}

// NewBuilder indexes the mappings' read methods. The debug logger may be nil.
func NewBuilder(mappings []repomatch.Mapping, debug *log.Logger) *Builder {
	b := &Builder{readIndex: make(map[string][]readMethod), debug: debug}
	for _, m := range mappings {
		for _, sig := range m.ReadMethods {
			key := sig.OwningType + "\x00" + sig.Name
			b.readIndex[key] = append(b.readIndex[key], readMethod{
				sig:            sig,
				repositoryType: m.RepositoryType,
				aggregateRoot:  m.AggregateRoot,
			})
		}
	}
	return b
}

// Build loads the referenced artifacts in parallel and constructs the graph
// over them. Unparseable artifacts are skipped and reported, not fatal.
func (b *Builder) Build(ctx context.Context, root string, refs []artifact.Ref) (*Graph, []SkippedArtifact, error) {
	var (
		mu      sync.Mutex
		classes []*artifact.Class
		skipped []SkippedArtifact
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			loaded, err := artifact.Load(root, ref.Path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				skipped = append(skipped, SkippedArtifact{Path: ref.Path, Err: err})
				return nil
			}
			classes = append(classes, loaded...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Path < skipped[j].Path })
	return b.FromClasses(classes), skipped, nil
}

// FromClasses constructs the graph over already-loaded classes. The result
// does not depend on input order.
func (b *Builder) FromClasses(classes []*artifact.Class) *Graph {
	ordered := make([]*artifact.Class, len(classes))
	copy(ordered, classes)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Path != ordered[j].Path {
			return ordered[i].Path < ordered[j].Path
		}
		return ordered[i].Type < ordered[j].Type
	})

	graph := &Graph{edges: make(map[MethodCallEdge]struct{})}
	seenSites := make(map[string]struct{})
	for _, c := range ordered {
		b.addClass(graph, seenSites, c)
	}
	return graph
}

func (b *Builder) addClass(graph *Graph, seenSites map[string]struct{}, c *artifact.Class) {
	for _, method := range c.Methods {
		caller := domain.MethodSignature{
			OwningType: c.Type,
			Name:       method.Name,
			Descriptor: method.Descriptor,
		}

		// First pass records edges and counts read-method hits: the count
		// decides whether the caller method's range can key a site alone.
		type match struct {
			inv artifact.Invocation
			rm  readMethod
		}
		var matches []match
		hits := make(map[domain.MethodSignature]int)
		for _, inv := range method.Invocations {
			if inv.Owner == "" {
				continue
			}
			graph.edges[MethodCallEdge{
				From: caller,
				To:   domain.MethodSignature{OwningType: inv.Owner, Name: inv.Name, Descriptor: inv.Descriptor},
			}] = struct{}{}

			if rm, ok := b.matchReadMethod(inv); ok {
				hits[rm.sig]++
				matches = append(matches, match{inv: inv, rm: rm})
			}
		}

		ordinals := make(map[domain.MethodSignature]int)
		for _, m := range matches {
			site := CallSite{
				Caller:           caller,
				RepositoryType:   m.rm.repositoryType,
				RepositoryMethod: m.rm.sig,
				AggregateRoot:    m.rm.aggregateRoot,
				ArtifactPath:     c.Path,
			}
			switch {
			case hits[m.rm.sig] == 1 && method.StartLine > 0:
				// Sole invocation of this read method: the caller
				// method's own range keys the site.
				site.Range = &SourceRange{StartLine: method.StartLine, EndLine: method.EndLine}
			case m.inv.StartLine > 0:
				site.Range = &SourceRange{StartLine: m.inv.StartLine, EndLine: m.inv.EndLine}
			default:
				ordinals[m.rm.sig]++
				site.Ordinal = ordinals[m.rm.sig]
			}

			identity := site.Key() + "\x00" + m.rm.sig.String()
			if _, dup := seenSites[identity]; dup {
				continue
			}
			seenSites[identity] = struct{}{}
			graph.sites = append(graph.sites, site)
			if b.debug != nil {
				b.debug.Printf("call site %s invokes %s", site.Key(), m.rm.sig)
			}
		}
	}
}

// matchReadMethod resolves an invocation against the read-method index.
// Descriptors must agree when both sides carry one; otherwise the (owner,
// name) match suffices, which bridges source pseudo-descriptors.
func (b *Builder) matchReadMethod(inv artifact.Invocation) (readMethod, bool) {
	candidates := b.readIndex[inv.Owner+"\x00"+inv.Name]
	for _, rm := range candidates {
		if inv.Descriptor != "" && rm.sig.Descriptor != "" && inv.Descriptor != rm.sig.Descriptor {
			continue
		}
		return rm, true
	}
	return readMethod{}, false
}
