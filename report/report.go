// Package report defines the call-analysis output document, the assembler
// that reshapes resolution results into it, and the runtime lookup API the
// data-fetch layer reads projections from.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrDocumentNotFound indicates no analysis document exists at the queried
// path; callers typically fall back to full projections.
var ErrDocumentNotFound = errors.New("analysis document not found")

// SchemaVersion is bumped whenever the document layout changes. A cached
// document with a different version triggers a full re-analysis.
const SchemaVersion = "1.0"

// AggregateMethodFields is one directly invoked aggregate-root method and
// the fields it transitively reads.
type AggregateMethodFields struct {
	AggregateRootMethod           string   `json:"aggregateRootMethod"`
	AggregateRootMethodDescriptor string   `json:"aggregateRootMethodDescriptor"`
	RequiredFields                []string `json:"requiredFields"`
}

// CallSiteRecord is the leaf of the output document: one repository call
// site with its caller identity and resolved field projection.
type CallSiteRecord struct {
	MethodClass                string                  `json:"methodClass"`
	Method                     string                  `json:"method"`
	MethodDescriptor           string                  `json:"methodDescriptor"`
	Repository                 string                  `json:"repository"`
	RepositoryMethod           string                  `json:"repositoryMethod"`
	RepositoryMethodDescriptor string                  `json:"repositoryMethodDescriptor"`
	AggregateRoot              string                  `json:"aggregateRoot"`
	CalledAggregateRootMethods []AggregateMethodFields `json:"calledAggregateRootMethods"`
	RequiredFields             []string                `json:"requiredFields"`
}

// Document is the persisted analysis result: aggregate root →
// "<repositoryMethodName><descriptor>" → caller-site key → record.
type Document struct {
	Version    string                                           `json:"version"`
	Timestamp  int64                                            `json:"timestamp"`
	Aggregates map[string]map[string]map[string]*CallSiteRecord `json:"aggregates"`
}

// Marshal renders the document deterministically: encoding/json emits map
// keys sorted, and every slice inside is sorted at assembly time.
func (d *Document) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serializing analysis document: %w", err)
	}
	return append(data, '\n'), nil
}

// Parse reads a document from raw bytes.
func Parse(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing analysis document: %w", err)
	}
	return &d, nil
}

// Load reads a document from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
		}
		return nil, fmt.Errorf("reading analysis document: %w", err)
	}
	return Parse(data)
}

// record returns the leaf for an exact (aggregate, repo-method key, site
// key) path, or nil.
func (d *Document) record(aggregateRoot, repoMethodKey, siteKey string) *CallSiteRecord {
	byMethod, ok := d.Aggregates[aggregateRoot]
	if !ok {
		return nil
	}
	bySite, ok := byMethod[repoMethodKey]
	if !ok {
		return nil
	}
	return bySite[siteKey]
}
