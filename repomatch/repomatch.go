// Package repomatch maps each aggregate root to its owning repository
// abstraction. Three strategies are evaluated in strict priority order:
// generic repository interface, repository marker annotation, then
// naming-convention templates. The first satisfied strategy wins and
// lower-priority strategies are never evaluated for that root.
package repomatch

import (
	"log"
	"sort"
	"strings"

	"github.com/morecup/pragmaddd-analyzer/artifact"
	"github.com/morecup/pragmaddd-analyzer/config"
	"github.com/morecup/pragmaddd-analyzer/domain"
)

// Strategy identifies which matching tier produced a mapping.
type Strategy string

const (
	GenericInterface Strategy = "GenericInterface"
	AnnotationMarker Strategy = "AnnotationMarker"
	NamingConvention Strategy = "NamingConvention"
)

// Mapping binds one aggregate root to exactly one repository type, together
// with the repository's read methods (the only methods that produce call
// sites downstream).
type Mapping struct {
	AggregateRoot  string
	RepositoryType string
	Strategy       Strategy
	ReadMethods    []domain.MethodSignature
}

// Resolver evaluates repository matching over a fixed candidate set.
type Resolver struct {
	genericInterfaces map[string]bool
	annotations       map[string]bool
	nameTemplates     []string
	readPrefixes      []string
	debug             *log.Logger
}

// NewResolver builds a resolver from the analyzer configuration. The debug
// logger may be nil.
func NewResolver(cfg *config.Config, debug *log.Logger) *Resolver {
	r := &Resolver{
		genericInterfaces: make(map[string]bool, len(cfg.GenericRepositoryInterfaces)),
		annotations:       make(map[string]bool, len(cfg.RepositoryAnnotations)),
		nameTemplates:     cfg.RepositoryNameTemplates,
		readPrefixes:      cfg.ReadMethodPrefixes,
		debug:             debug,
	}
	for _, name := range cfg.GenericRepositoryInterfaces {
		r.genericInterfaces[name] = true
	}
	for _, name := range cfg.RepositoryAnnotations {
		r.annotations[name] = true
	}
	return r
}

// Resolve maps every aggregate root to at most one repository. Roots with
// no match under any strategy are silently omitted; they simply yield no
// call-site analysis.
func (r *Resolver) Resolve(aggregateRoots []string, candidates []*artifact.Class) []Mapping {
	eligible := make([]*artifact.Class, 0, len(candidates))
	for _, c := range candidates {
		if c.Public && !c.Synthetic {
			eligible = append(eligible, c)
		}
	}
	// Lexical candidate order makes template tie-breaking deterministic:
	// when a template matches several types, the first lexical match wins.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Type < eligible[j].Type })

	var mappings []Mapping
	for _, root := range aggregateRoots {
		if m, ok := r.resolveOne(root, eligible); ok {
			mappings = append(mappings, m)
		} else if r.debug != nil {
			r.debug.Printf("no repository matched aggregate root %s", root)
		}
	}
	return mappings
}

func (r *Resolver) resolveOne(root string, candidates []*artifact.Class) (Mapping, bool) {
	if c := r.matchGenericInterface(root, candidates); c != nil {
		return r.mapping(root, c, GenericInterface), true
	}
	if c := r.matchAnnotation(root, candidates); c != nil {
		return r.mapping(root, c, AnnotationMarker), true
	}
	if c := r.matchNaming(root, candidates); c != nil {
		return r.mapping(root, c, NamingConvention), true
	}
	return Mapping{}, false
}

func (r *Resolver) matchGenericInterface(root string, candidates []*artifact.Class) *artifact.Class {
	for _, c := range candidates {
		for _, iface := range c.Interfaces {
			if !r.genericInterfaces[iface.Name] {
				continue
			}
			for _, arg := range iface.TypeArguments {
				if arg == root {
					return c
				}
			}
		}
	}
	return nil
}

func (r *Resolver) matchAnnotation(root string, candidates []*artifact.Class) *artifact.Class {
	for _, c := range candidates {
		for _, ann := range c.Annotations {
			if r.annotations[ann.Type] && ann.TargetType == root {
				return c
			}
		}
	}
	return nil
}

func (r *Resolver) matchNaming(root string, candidates []*artifact.Class) *artifact.Class {
	simple := domain.SimpleName(root)
	for _, tpl := range r.nameTemplates {
		want := strings.ReplaceAll(tpl, config.Placeholder, simple)
		var matched *artifact.Class
		for _, c := range candidates {
			if domain.SimpleName(c.Type) == want {
				matched = c
				break // candidates are lexically sorted; first match wins
			}
		}
		if matched != nil {
			if r.debug != nil {
				r.debug.Printf("aggregate %s matched %s via template %q", root, matched.Type, tpl)
			}
			return matched
		}
	}
	return nil
}

func (r *Resolver) mapping(root string, repo *artifact.Class, strategy Strategy) Mapping {
	m := Mapping{
		AggregateRoot:  root,
		RepositoryType: repo.Type,
		Strategy:       strategy,
	}
	for _, method := range repo.Methods {
		if r.isReadMethod(method, root) {
			m.ReadMethods = append(m.ReadMethods, domain.MethodSignature{
				OwningType: repo.Type,
				Name:       method.Name,
				Descriptor: method.Descriptor,
			})
		}
	}
	return m
}

// isReadMethod marks repository methods that load the aggregate: either the
// descriptor's return type references the aggregate root, or the method
// name carries a configured read prefix. Over-inclusion is acceptable here;
// a read method nobody calls produces no call sites.
func (r *Resolver) isReadMethod(m artifact.Method, root string) bool {
	returnPart := m.Descriptor
	if i := strings.LastIndexByte(m.Descriptor, ')'); i >= 0 {
		returnPart = m.Descriptor[i+1:]
	}
	slashed := strings.ReplaceAll(root, ".", "/")
	if strings.Contains(returnPart, slashed) || strings.Contains(returnPart, root) {
		return true
	}
	for _, prefix := range r.readPrefixes {
		if strings.HasPrefix(m.Name, prefix) {
			return true
		}
	}
	return false
}
