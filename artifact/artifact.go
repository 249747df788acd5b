// Package artifact loads compiled program artifacts for call-graph
// analysis. The primary form is the class-metadata JSON sidecar emitted by
// the build next to each compiled class; a tree-sitter based fallback
// recovers the same structure from plain Java sources when no sidecars
// were produced.
package artifact

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/morecup/pragmaddd-analyzer/cas"
)

// TypeRef references a type, optionally with generic type arguments
// ("BaseRepository<Goods>" carries one argument).
type TypeRef struct {
	Name          string   `json:"name"`
	TypeArguments []string `json:"typeArguments,omitempty"`
}

// AnnotationRef references an annotation on a type. TargetType is the
// declared target type argument for marker annotations that carry one.
type AnnotationRef struct {
	Type       string `json:"type"`
	TargetType string `json:"targetType,omitempty"`
}

// Invocation is one invocation instruction inside a method body.
// Descriptor may be empty for source-derived artifacts; matching then
// falls back to (owner, name).
type Invocation struct {
	Owner      string `json:"owner"`
	Name       string `json:"name"`
	Descriptor string `json:"descriptor,omitempty"`
	StartLine  int    `json:"startLine"`
	EndLine    int    `json:"endLine"`
}

// Method is one method declared by the artifact's type.
type Method struct {
	Name        string       `json:"name"`
	Descriptor  string       `json:"descriptor"`
	StartLine   int          `json:"startLine"`
	EndLine     int          `json:"endLine"`
	Invocations []Invocation `json:"invocations,omitempty"`
}

// Class is the analyzable content of one compiled artifact.
type Class struct {
	Type        string          `json:"type"`
	SourceFile  string          `json:"sourceFile,omitempty"`
	Public      bool            `json:"public"`
	Synthetic   bool            `json:"synthetic,omitempty"`
	Interfaces  []TypeRef       `json:"interfaces,omitempty"`
	Annotations []AnnotationRef `json:"annotations,omitempty"`
	Methods     []Method        `json:"methods,omitempty"`

	// Path is the artifact file this class was loaded from, relative to
	// the scan root. It keys the incremental cache entry for this class.
	Path string `json:"-"`
}

// Ref is a discovered artifact file with its content digest, before parsing.
type Ref struct {
	Path string // relative to the scan root
	Hash string
}

// Scan walks root and returns every artifact file that passes the filter,
// each with its BLAKE3 content digest. Results are sorted by path so scan
// order never influences output.
func Scan(root string, filter *Filter) ([]Ref, error) {
	var refs []Ref

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !loadable(rel) || !filter.Matches(rel) {
			return nil
		}
		hash, err := cas.DigestFile(path)
		if err != nil {
			return err
		}
		refs = append(refs, Ref{Path: rel, Hash: hash})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

// Load parses one artifact file into its classes. The loader is chosen by
// file extension.
func Load(root, rel string) ([]*Class, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", rel, err)
	}

	var classes []*Class
	switch {
	case strings.HasSuffix(rel, ".classmeta.json"):
		classes, err = parseClassMeta(data)
	case strings.HasSuffix(rel, ".java"):
		classes, err = parseJavaSource(data)
	default:
		return nil, fmt.Errorf("no loader for artifact %s", rel)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing artifact %s: %w", rel, err)
	}

	for _, c := range classes {
		c.Path = rel
	}
	return classes, nil
}

func loadable(rel string) bool {
	return strings.HasSuffix(rel, ".classmeta.json") || strings.HasSuffix(rel, ".java")
}
