// Package domain loads the domain model document produced by the
// build-time property-analysis pass. The document lists every domain
// type (aggregate root, entity, value object) together with per-method
// facts: which properties the method reads, which it writes, and which
// methods it calls.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/morecup/pragmaddd-analyzer/cas"
)

// ErrMissingDomainModel indicates the domain model document is absent or
// unreadable. The analysis cannot run without it.
var ErrMissingDomainModel = errors.New("domain model document missing or unreadable")

// Classification categorizes a domain type.
type Classification string

const (
	AggregateRoot Classification = "aggregateRoot"
	Entity        Classification = "entity"
	ValueObject   Classification = "valueObject"
)

// MethodSignature identifies a method. Equality is by owning type, name,
// and descriptor only; it carries no call-site context.
type MethodSignature struct {
	OwningType string `json:"owningType"`
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
}

// String renders the signature for logging and map keys.
func (s MethodSignature) String() string {
	return s.OwningType + "." + s.Name + s.Descriptor
}

// MethodFact records the property accesses of one analyzed method body.
type MethodFact struct {
	Name               string            `json:"name"`
	Descriptor         string            `json:"descriptor"`
	ReadProperties     []string          `json:"readProperties"`
	ModifiedProperties []string          `json:"modifiedProperties"`
	CalledMethods      []MethodSignature `json:"calledMethods"`
}

// TypeFact describes one domain type and its method facts.
type TypeFact struct {
	Name           string         `json:"name"`
	Classification Classification `json:"classification"`
	Methods        []MethodFact   `json:"methods"`
}

// Model is the loaded domain model document.
type Model struct {
	Types []TypeFact `json:"types"`

	// Hash is the BLAKE3 digest of the document's canonical JSON form. A
	// semantically changed domain model invalidates every cached analysis
	// result; pure reformatting does not.
	Hash string `json:"-"`

	byType map[string]*TypeFact
	facts  map[MethodSignature]*MethodFact
	// byName indexes facts by owner+name for descriptor-less lookups.
	byName map[string][]*MethodFact
}

// Load reads and indexes a domain model document from disk.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingDomainModel, err)
	}
	return Parse(data)
}

// Parse indexes a domain model document from raw bytes.
func Parse(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing: %v", ErrMissingDomainModel, err)
	}
	hash, err := cas.DigestJSON(&m)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting domain model: %w", err)
	}
	m.Hash = hash
	m.index()
	return &m, nil
}

func (m *Model) index() {
	m.byType = make(map[string]*TypeFact, len(m.Types))
	m.facts = make(map[MethodSignature]*MethodFact)
	m.byName = make(map[string][]*MethodFact)

	for i := range m.Types {
		tf := &m.Types[i]
		m.byType[tf.Name] = tf
		for j := range tf.Methods {
			mf := &tf.Methods[j]
			sig := MethodSignature{OwningType: tf.Name, Name: mf.Name, Descriptor: mf.Descriptor}
			m.facts[sig] = mf
			key := tf.Name + "." + mf.Name
			m.byName[key] = append(m.byName[key], mf)
		}
	}
}

// AggregateRoots returns the fully qualified names of every aggregate root
// in the model, in document order.
func (m *Model) AggregateRoots() []string {
	var roots []string
	for i := range m.Types {
		if m.Types[i].Classification == AggregateRoot {
			roots = append(roots, m.Types[i].Name)
		}
	}
	return roots
}

// IsDomainType reports whether the named type is an aggregate root, entity,
// or value object in this model.
func (m *Model) IsDomainType(name string) bool {
	_, ok := m.byType[name]
	return ok
}

// Fact returns the method fact for an exact signature, or nil.
func (m *Model) Fact(sig MethodSignature) *MethodFact {
	return m.facts[sig]
}

// FactByName returns the fact for (owner, name) when exactly one overload
// exists. Source-derived artifacts carry pseudo-descriptors that do not
// match the bytecode descriptors in this model; the unique-name fallback
// bridges them without inventing facts for ambiguous overloads.
func (m *Model) FactByName(owner, name string) *MethodFact {
	facts := m.byName[owner+"."+name]
	if len(facts) == 1 {
		return facts[0]
	}
	return nil
}

// SimpleName returns the unqualified name of a fully qualified type.
func SimpleName(fqn string) string {
	if i := strings.LastIndexAny(fqn, "./$"); i >= 0 {
		return fqn[i+1:]
	}
	return fqn
}
