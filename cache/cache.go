// Package cache persists analysis results across runs so re-analysis can be
// narrowed to the artifacts whose content actually changed. Per-artifact
// entries live in a sqlite database; the assembled document is stored
// zstd-compressed next to it and always written atomically.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/morecup/pragmaddd-analyzer/artifact"
	"github.com/morecup/pragmaddd-analyzer/report"
)

// ErrLocked indicates another live analysis run holds the cache directory.
// Locks left behind by crashed runs are detected through the recorded pid
// and reclaimed automatically.
var ErrLocked = errors.New("cache directory locked by another run")

const (
	lockFile     = "lock"
	entriesDB    = "entries.db"
	documentFile = "analysis.json.zst"

	metaDomainHash    = "domainModelHash"
	metaSchemaVersion = "schemaVersion"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifact_entries (
	path TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	entries BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is an open cache directory. Opening takes a coarse lock on the
// directory; a second concurrent open fails with ErrLocked.
type Store struct {
	dir string
	db  *sql.DB
}

// Open opens or creates the cache at dir and acquires its lock.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	if err := acquireLock(filepath.Join(dir, lockFile)); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, entriesDB))
	if err != nil {
		os.Remove(filepath.Join(dir, lockFile))
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		os.Remove(filepath.Join(dir, lockFile))
		return nil, fmt.Errorf("applying cache schema: %w", err)
	}
	return &Store{dir: dir, db: db}, nil
}

// acquireLock creates the lock file exclusively, recording our pid. An
// existing lock whose recorded process is gone is treated as the residue of
// a crashed run and reclaimed once.
func acquireLock(path string) error {
	for attempt := 0; ; attempt++ {
		lock, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(lock, "%d\n", os.Getpid())
			return lock.Close()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquiring cache lock: %w", err)
		}
		if attempt > 0 || !lockIsStale(path) {
			return ErrLocked
		}
		os.Remove(path)
	}
}

// lockIsStale reports whether the lock's recorded process no longer exists.
// An unreadable pid counts as stale; a live process we may not signal
// (EPERM) does not.
func lockIsStale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	sigErr := proc.Signal(syscall.Signal(0))
	if sigErr == nil {
		return false
	}
	return !errors.Is(sigErr, syscall.EPERM)
}

// Close releases the database and the directory lock.
func (s *Store) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	if rmErr := os.Remove(filepath.Join(s.dir, lockFile)); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// Plan decides how much of the artifact set needs re-analysis. Any defect
// in the cached state (missing document, version or domain-model mismatch,
// corruption) degrades to a full run, never to an error.
type Plan struct {
	Full      bool
	Reason    string // set when Full
	Changed   []artifact.Ref
	Unchanged []artifact.Ref
	Removed   []string // cached paths absent from the current artifact set
}

// Plan compares the current inputs against the cached state.
func (s *Store) Plan(refs []artifact.Ref, domainHash string) *Plan {
	current := make(map[string]bool, len(refs))
	for _, ref := range refs {
		current[ref.Path] = true
	}

	// Rows for artifacts that no longer exist are purged on full runs too,
	// not only when an incremental plan notices them.
	removed := func() []string {
		hashes, err := s.storedHashes()
		if err != nil {
			return nil
		}
		var gone []string
		for path := range hashes {
			if !current[path] {
				gone = append(gone, path)
			}
		}
		sort.Strings(gone)
		return gone
	}

	full := func(reason string) *Plan {
		return &Plan{Full: true, Reason: reason, Changed: refs, Removed: removed()}
	}

	doc, err := s.LoadDocument()
	if err != nil {
		return full("cached document unreadable: " + err.Error())
	}
	if doc == nil {
		return full("no cached document")
	}
	if doc.Version != report.SchemaVersion {
		return full(fmt.Sprintf("schema version %s, cache has %s", report.SchemaVersion, doc.Version))
	}
	if stored, err := s.meta(metaDomainHash); err != nil || stored != domainHash {
		return full("domain model changed")
	}

	hashes, err := s.storedHashes()
	if err != nil {
		return full("cache entries unreadable: " + err.Error())
	}

	plan := &Plan{Removed: removed()}
	for _, ref := range refs {
		if hashes[ref.Path] == ref.Hash {
			plan.Unchanged = append(plan.Unchanged, ref)
		} else {
			plan.Changed = append(plan.Changed, ref)
		}
	}
	return plan
}

func (s *Store) storedHashes() (map[string]string, error) {
	rows, err := s.db.Query("SELECT path, content_hash FROM artifact_entries")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		hashes[path] = hash
	}
	return hashes, rows.Err()
}

func (s *Store) meta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// Update stores the entries produced by analyzing one artifact, replacing
// any previous row for the same path.
func (s *Store) Update(ref artifact.Ref, entries []report.Entry) error {
	blob, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding cache entries for %s: %w", ref.Path, err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO artifact_entries (path, content_hash, entries) VALUES (?, ?, ?)`,
		ref.Path, ref.Hash, blob,
	)
	if err != nil {
		return fmt.Errorf("storing cache entry for %s: %w", ref.Path, err)
	}
	return nil
}

// Entries returns the cached entries for one artifact path. A missing row
// yields an empty slice.
func (s *Store) Entries(path string) ([]report.Entry, error) {
	var blob []byte
	err := s.db.QueryRow("SELECT entries FROM artifact_entries WHERE path = ?", path).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache entry for %s: %w", path, err)
	}
	var entries []report.Entry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return nil, fmt.Errorf("decoding cache entry for %s: %w", path, err)
	}
	return entries, nil
}

// Delete drops the cached row for an artifact that no longer exists.
func (s *Store) Delete(path string) error {
	_, err := s.db.Exec("DELETE FROM artifact_entries WHERE path = ?", path)
	return err
}

// PersistDocument atomically writes the assembled document and records the
// domain-model hash it was produced against. A crash mid-write leaves the
// previous document intact.
func (s *Store) PersistDocument(doc *report.Document, domainHash string) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "analysis-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp document: %w", err)
	}
	defer os.Remove(tmp.Name())

	encoder, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(data); err != nil {
		encoder.Close()
		tmp.Close()
		return fmt.Errorf("compressing document: %w", err)
	}
	if err := encoder.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finishing compression: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp document: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, documentFile)); err != nil {
		return fmt.Errorf("publishing document: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?), (?, ?)`,
		metaDomainHash, domainHash, metaSchemaVersion, report.SchemaVersion,
	)
	return err
}

// LoadDocument reads the cached document. A missing file is (nil, nil); a
// present but unreadable file is an error the planner treats as corruption.
func (s *Store) LoadDocument() (*report.Document, error) {
	f, err := os.Open(filepath.Join(s.dir, documentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	decoder, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	var doc report.Document
	if err := json.NewDecoder(decoder).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding cached document: %w", err)
	}
	return &doc, nil
}

// Clear drops every cached entry and the cached document. The lock stays in
// place until Close.
func (s *Store) Clear() error {
	if _, err := s.db.Exec("DELETE FROM artifact_entries"); err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM meta"); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, documentFile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
