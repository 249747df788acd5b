package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/morecup/pragmaddd-analyzer/artifact"
	"github.com/morecup/pragmaddd-analyzer/report"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(root, repoKey, siteKey, artifactPath string, fields ...string) report.Entry {
	return report.Entry{
		AggregateRoot:       root,
		RepositoryMethodKey: repoKey,
		CallSiteKey:         siteKey,
		ArtifactPath:        artifactPath,
		Record: &report.CallSiteRecord{
			AggregateRoot:  root,
			RequiredFields: fields,
		},
	}
}

func TestLockExcludesSecondOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	first, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	defer first.Close()

	if _, err := Open(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("second Open = %v, want ErrLocked", err)
	}
}

func TestLockReleasedOnClose(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	first, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	second, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen after Close failed: %v", err)
	}
	second.Close()
}

func TestStaleLockReclaimed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	// A pid no live process can hold: beyond any realistic pid_max.
	if err := os.WriteFile(filepath.Join(dir, lockFile), []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open should reclaim a dead run's lock: %v", err)
	}
	s.Close()
}

func TestMalformedLockTreatedAsStale(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, lockFile), []byte("not a pid"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open should reclaim a lock with an unreadable pid: %v", err)
	}
	s.Close()
}

func TestPlanNoDocumentIsFull(t *testing.T) {
	s := openStore(t)
	plan := s.Plan([]artifact.Ref{{Path: "A.java", Hash: "h1"}}, "dm1")
	if !plan.Full {
		t.Fatalf("plan = %+v, want full", plan)
	}
	if len(plan.Changed) != 1 {
		t.Errorf("full plan must re-analyze everything, got %+v", plan.Changed)
	}
}

func persistSample(t *testing.T, s *Store, domainHash string, refs ...artifact.Ref) {
	t.Helper()
	for _, ref := range refs {
		if err := s.Update(ref, []report.Entry{
			entry("Goods", "findById()", ref.Path+"+1-1", ref.Path, "id"),
		}); err != nil {
			t.Fatal(err)
		}
	}
	doc := report.NewAssembler(func() int64 { return 1 }).Assemble(nil)
	if err := s.PersistDocument(doc, domainHash); err != nil {
		t.Fatal(err)
	}
}

func TestPlanSplitsChangedFromUnchanged(t *testing.T) {
	s := openStore(t)
	persistSample(t, s, "dm1",
		artifact.Ref{Path: "A.java", Hash: "ha"},
		artifact.Ref{Path: "B.java", Hash: "hb"},
	)

	plan := s.Plan([]artifact.Ref{
		{Path: "A.java", Hash: "ha"},
		{Path: "B.java", Hash: "hb-changed"},
		{Path: "C.java", Hash: "hc"},
	}, "dm1")

	if plan.Full {
		t.Fatalf("plan full (%s), want incremental", plan.Reason)
	}
	changed := pathsOf(plan.Changed)
	if !reflect.DeepEqual(changed, []string{"B.java", "C.java"}) {
		t.Errorf("changed = %v", changed)
	}
	if got := pathsOf(plan.Unchanged); !reflect.DeepEqual(got, []string{"A.java"}) {
		t.Errorf("unchanged = %v", got)
	}
}

func TestPlanDomainModelChangeForcesFull(t *testing.T) {
	s := openStore(t)
	ref := artifact.Ref{Path: "A.java", Hash: "ha"}
	persistSample(t, s, "dm1", ref)

	plan := s.Plan([]artifact.Ref{ref}, "dm2")
	if !plan.Full {
		t.Errorf("plan = %+v, want full after domain model change", plan)
	}
}

func TestPlanRemovedArtifacts(t *testing.T) {
	s := openStore(t)
	persistSample(t, s, "dm1",
		artifact.Ref{Path: "A.java", Hash: "ha"},
		artifact.Ref{Path: "Gone.java", Hash: "hg"},
	)

	plan := s.Plan([]artifact.Ref{{Path: "A.java", Hash: "ha"}}, "dm1")
	if plan.Full {
		t.Fatalf("plan full (%s)", plan.Reason)
	}
	if !reflect.DeepEqual(plan.Removed, []string{"Gone.java"}) {
		t.Errorf("removed = %v", plan.Removed)
	}
}

func TestFullPlanStillReportsRemovedArtifacts(t *testing.T) {
	s := openStore(t)
	persistSample(t, s, "dm1",
		artifact.Ref{Path: "A.java", Hash: "ha"},
		artifact.Ref{Path: "Gone.java", Hash: "hg"},
	)

	// Domain model change degrades to a full run; stale rows for deleted
	// artifacts must still be flagged for purging.
	plan := s.Plan([]artifact.Ref{{Path: "A.java", Hash: "ha"}}, "dm2")
	if !plan.Full {
		t.Fatalf("plan = %+v, want full", plan)
	}
	if !reflect.DeepEqual(plan.Removed, []string{"Gone.java"}) {
		t.Errorf("removed = %v, want [Gone.java]", plan.Removed)
	}
}

func TestCorruptDocumentForcesFull(t *testing.T) {
	s := openStore(t)
	ref := artifact.Ref{Path: "A.java", Hash: "ha"}
	persistSample(t, s, "dm1", ref)

	if err := os.WriteFile(filepath.Join(s.dir, documentFile), []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	plan := s.Plan([]artifact.Ref{ref}, "dm1")
	if !plan.Full {
		t.Error("corrupt document must force a full re-analysis")
	}
}

func TestEntriesRoundTripAndDelete(t *testing.T) {
	s := openStore(t)
	ref := artifact.Ref{Path: "A.java", Hash: "ha"}
	want := []report.Entry{entry("Goods", "findById()", "Svc.m+1-1", "A.java", "id", "name")}
	if err := s.Update(ref, want); err != nil {
		t.Fatal(err)
	}

	got, err := s.Entries("A.java")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("entries = %+v", got)
	}

	if err := s.Delete("A.java"); err != nil {
		t.Fatal(err)
	}
	got, err = s.Entries("A.java")
	if err != nil || got != nil {
		t.Errorf("after delete: entries = %+v, err = %v", got, err)
	}
}

func TestPersistAndLoadDocument(t *testing.T) {
	s := openStore(t)
	a := report.NewAssembler(func() int64 { return 42 })
	doc := a.Assemble([]report.Entry{entry("Goods", "findById()", "Svc.m+1-1", "A.java", "id")})

	if err := s.PersistDocument(doc, "dm1"); err != nil {
		t.Fatal(err)
	}
	loaded, err := s.LoadDocument()
	if err != nil {
		t.Fatal(err)
	}

	wantBytes, _ := doc.Marshal()
	gotBytes, _ := loaded.Marshal()
	if !bytes.Equal(wantBytes, gotBytes) {
		t.Error("document changed across persist/load")
	}
}

func TestPersistLeavesNoTempFiles(t *testing.T) {
	s := openStore(t)
	doc := report.NewAssembler(func() int64 { return 1 }).Assemble(nil)
	if err := s.PersistDocument(doc, "dm1"); err != nil {
		t.Fatal(err)
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, "analysis-*.tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestInterruptedWriteLeavesPreviousDocument(t *testing.T) {
	// A crash between temp write and rename leaves a stray temp file; the
	// published document must stay readable and the next persist must win.
	s := openStore(t)
	a := report.NewAssembler(func() int64 { return 1 })
	first := a.Assemble([]report.Entry{entry("Goods", "findById()", "Svc.m+1-1", "A.java", "id")})
	if err := s.PersistDocument(first, "dm1"); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, "analysis-crashed.tmp"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadDocument()
	if err != nil || loaded == nil {
		t.Fatalf("previous document unreadable after simulated crash: %v", err)
	}

	second := a.Assemble(nil)
	if err := s.PersistDocument(second, "dm1"); err != nil {
		t.Fatalf("persist after crash failed: %v", err)
	}
	loaded, err = s.LoadDocument()
	if err != nil {
		t.Fatal(err)
	}
	want, _ := second.Marshal()
	got, _ := loaded.Marshal()
	if !bytes.Equal(want, got) {
		t.Error("later persist did not replace the document")
	}
}

func TestMergeIdempotent(t *testing.T) {
	d := []report.Entry{
		entry("Goods", "findById()", "Svc.m+1-1", "A.java", "id"),
		entry("Goods", "findById()", "Svc.m+5-5", "B.java", "name"),
	}
	if got := Merge(d, d); !reflect.DeepEqual(got, d) {
		t.Errorf("merge(d, d) = %+v, want d", got)
	}
}

func TestMergeIncrementalWinsAndCarriesOver(t *testing.T) {
	previous := []report.Entry{
		entry("Goods", "findById()", "Svc.m+1-1", "A.java", "id"),
		entry("Goods", "findById()", "Svc.n+9-9", "C.java", "old"),
	}
	incremental := []report.Entry{
		entry("Goods", "findById()", "Svc.m+1-1", "A.java", "id", "name"),
	}

	merged := Merge(previous, incremental)
	if len(merged) != 2 {
		t.Fatalf("merged = %+v", merged)
	}

	byKey := make(map[string]report.Entry)
	for _, e := range merged {
		byKey[e.CallSiteKey] = e
	}
	if got := byKey["Svc.m+1-1"].Record.RequiredFields; !reflect.DeepEqual(got, []string{"id", "name"}) {
		t.Errorf("incremental entry did not win: %v", got)
	}
	if _, ok := byKey["Svc.n+9-9"]; !ok {
		t.Error("untouched call site dropped by merge")
	}
}

func TestClear(t *testing.T) {
	s := openStore(t)
	ref := artifact.Ref{Path: "A.java", Hash: "ha"}
	persistSample(t, s, "dm1", ref)

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if doc, err := s.LoadDocument(); err != nil || doc != nil {
		t.Errorf("document after clear: %v, %v", doc, err)
	}
	if got, _ := s.Entries("A.java"); got != nil {
		t.Errorf("entries after clear: %+v", got)
	}
}

func pathsOf(refs []artifact.Ref) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Path)
	}
	return out
}
