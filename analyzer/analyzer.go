// Package analyzer orchestrates the analysis pipeline: domain model and
// artifact loading, repository resolution, call-graph construction, field
// resolution, cache reconciliation, and document assembly.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/morecup/pragmaddd-analyzer/artifact"
	"github.com/morecup/pragmaddd-analyzer/cache"
	"github.com/morecup/pragmaddd-analyzer/callgraph"
	"github.com/morecup/pragmaddd-analyzer/config"
	"github.com/morecup/pragmaddd-analyzer/domain"
	"github.com/morecup/pragmaddd-analyzer/fieldaccess"
	"github.com/morecup/pragmaddd-analyzer/repomatch"
	"github.com/morecup/pragmaddd-analyzer/report"
)

// ErrWarnings is returned when failOnError escalates accumulated warnings.
// The result document is still produced and persisted before escalation.
var ErrWarnings = errors.New("analysis completed with warnings")

// Runner executes analysis runs against one configuration.
type Runner struct {
	Config *config.Config

	// Clock stamps assembled documents; nil means wall time.
	Clock func() int64

	// Log receives warnings and progress. Nil means stderr.
	Log *log.Logger
}

// Result is the outcome of one analysis run.
type Result struct {
	Document *report.Document
	Warnings []string

	// FullRun reports whether the cache could narrow the run.
	FullRun  bool
	Analyzed int
	Reused   int
}

// Run analyzes the artifacts under artifactsDir against the domain model
// document at domainModelPath.
func (r *Runner) Run(ctx context.Context, artifactsDir, domainModelPath string) (*Result, error) {
	cfg := r.Config
	logger := r.Log
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	var debug *log.Logger
	if cfg.Verbose {
		debug = log.New(logger.Writer(), "debug: ", 0)
	}

	model, err := domain.Load(domainModelPath)
	if err != nil {
		return nil, err
	}

	filter := artifact.NewFilter(cfg.Include, cfg.Exclude)
	refs, err := artifact.Scan(artifactsDir, filter)
	if err != nil {
		return nil, err
	}

	var store *cache.Store
	plan := &cache.Plan{Full: true, Reason: "cache disabled", Changed: refs}
	if cfg.CacheEnabled {
		store, err = cache.Open(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		plan = store.Plan(refs, model.Hash)
	}
	if plan.Full && debug != nil {
		debug.Printf("full analysis: %s", plan.Reason)
	}

	classes, failed, warnings, err := loadClasses(ctx, artifactsDir, refs)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.Print(w)
	}

	// Repository resolution runs over every candidate each run; only the
	// call-graph and field-resolution stages are narrowed by the cache.
	var allClasses []*artifact.Class
	for _, ref := range refs {
		allClasses = append(allClasses, classes[ref.Path]...)
	}
	mappings := repomatch.NewResolver(cfg, debug).Resolve(model.AggregateRoots(), allClasses)

	var changedClasses []*artifact.Class
	for _, ref := range plan.Changed {
		changedClasses = append(changedClasses, classes[ref.Path]...)
	}
	graph := callgraph.NewBuilder(mappings, debug).FromClasses(changedClasses)

	resolver := fieldaccess.NewResolver(model, cfg, debug)
	results, faWarnings, err := resolver.ResolveAll(ctx, graph, graph.RepositoryCallSites())
	if err != nil {
		return nil, err
	}
	for _, w := range faWarnings {
		msg := fmt.Sprintf("call site %s, method %s: %s", w.CallSiteKey, w.Method, w.Message)
		warnings = append(warnings, msg)
		logger.Print(msg)
	}

	assembler := report.NewAssembler(r.Clock)
	newEntries := assembler.Entries(results)

	merged := newEntries
	if store != nil {
		if merged, err = r.reconcile(store, plan, newEntries, failed); err != nil {
			return nil, err
		}
	}

	doc := assembler.Assemble(merged)
	if store != nil {
		if err := store.PersistDocument(doc, model.Hash); err != nil {
			return nil, err
		}
	}

	res := &Result{
		Document: doc,
		Warnings: warnings,
		FullRun:  plan.Full,
		Analyzed: len(plan.Changed),
		Reused:   len(plan.Unchanged),
	}
	if cfg.FailOnError && len(warnings) > 0 {
		return res, fmt.Errorf("%w: %d warning(s)", ErrWarnings, len(warnings))
	}
	return res, nil
}

// reconcile updates the per-artifact cache rows and merges cached entries of
// unchanged artifacts with the fresh ones. Artifacts that failed to load are
// not recorded, so the next run retries them.
func (r *Runner) reconcile(store *cache.Store, plan *cache.Plan, newEntries []report.Entry, failed map[string]bool) ([]report.Entry, error) {
	byArtifact := make(map[string][]report.Entry)
	for _, e := range newEntries {
		byArtifact[e.ArtifactPath] = append(byArtifact[e.ArtifactPath], e)
	}

	for _, ref := range plan.Changed {
		if failed[ref.Path] {
			continue
		}
		if err := store.Update(ref, byArtifact[ref.Path]); err != nil {
			return nil, err
		}
	}
	for _, path := range plan.Removed {
		if err := store.Delete(path); err != nil {
			return nil, err
		}
	}

	var previous []report.Entry
	for _, ref := range plan.Unchanged {
		entries, err := store.Entries(ref.Path)
		if err != nil {
			return nil, err
		}
		previous = append(previous, entries...)
	}
	return cache.Merge(previous, newEntries), nil
}

// loadClasses parses every referenced artifact in parallel. Unparseable
// artifacts are reported as warnings and marked failed.
func loadClasses(ctx context.Context, root string, refs []artifact.Ref) (map[string][]*artifact.Class, map[string]bool, []string, error) {
	var (
		mu       sync.Mutex
		classes  = make(map[string][]*artifact.Class, len(refs))
		failed   = make(map[string]bool)
		warnings []string
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
				failed[ref.Path] = true
				warnings = append(warnings, fmt.Sprintf("skipping artifact %s: %v", ref.Path, err))
				return nil
			}
			classes[ref.Path] = loaded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return classes, failed, warnings, nil
}

// WriteDocument writes the document to path atomically so an aborted run
// never leaves a truncated file behind.
func WriteDocument(doc *report.Document, path string) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
