package repomatch

import (
	"testing"

	"github.com/morecup/pragmaddd-analyzer/artifact"
	"github.com/morecup/pragmaddd-analyzer/config"
)

const goodsRoot = "com.example.order.Goods"

func genericRepo(typeName string) *artifact.Class {
	return &artifact.Class{
		Type:   typeName,
		Public: true,
		Interfaces: []artifact.TypeRef{
			{
				Name:          "org.morecup.pragmaddd.core.repository.BaseRepository",
				TypeArguments: []string{goodsRoot},
			},
		},
		Methods: []artifact.Method{
			{Name: "findByIdOrErr", Descriptor: "(J)Lcom/example/order/Goods;"},
			{Name: "save", Descriptor: "(Lcom/example/order/Goods;)V"},
		},
	}
}

func namedRepo(typeName string) *artifact.Class {
	return &artifact.Class{
		Type:   typeName,
		Public: true,
		Methods: []artifact.Method{
			{Name: "findById", Descriptor: "(J)Lcom/example/order/Goods;"},
		},
	}
}

func resolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(config.Default(), nil)
}

func TestGenericInterfaceBeatsNamingConvention(t *testing.T) {
	// Two candidates: one matches via generic interface, another via the
	// naming convention. The generic interface match must win.
	generic := genericRepo("com.example.order.GoodsStore")
	named := namedRepo("com.example.order.GoodsRepository")

	mappings := resolver(t).Resolve([]string{goodsRoot}, []*artifact.Class{named, generic})
	if len(mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(mappings))
	}
	m := mappings[0]
	if m.RepositoryType != "com.example.order.GoodsStore" {
		t.Errorf("repository = %q, want the generic-interface match", m.RepositoryType)
	}
	if m.Strategy != GenericInterface {
		t.Errorf("strategy = %q, want GenericInterface", m.Strategy)
	}
}

func TestAnnotationBeatsNamingConvention(t *testing.T) {
	annotated := &artifact.Class{
		Type:   "com.example.order.GoodsDao",
		Public: true,
		Annotations: []artifact.AnnotationRef{
			{Type: "org.morecup.pragmaddd.core.annotation.Repository", TargetType: goodsRoot},
		},
	}
	named := namedRepo("com.example.order.GoodsRepository")

	mappings := resolver(t).Resolve([]string{goodsRoot}, []*artifact.Class{named, annotated})
	if len(mappings) != 1 || mappings[0].Strategy != AnnotationMarker {
		t.Fatalf("mappings = %+v, want annotation match", mappings)
	}
	if mappings[0].RepositoryType != "com.example.order.GoodsDao" {
		t.Errorf("repository = %q", mappings[0].RepositoryType)
	}
}

func TestNamingTemplatesTriedInOrder(t *testing.T) {
	// Both templates match a candidate; the first template wins even when
	// the second template's candidate sorts earlier.
	first := namedRepo("com.example.z.GoodsRepository")
	second := namedRepo("com.example.a.IGoodsRepository")

	mappings := resolver(t).Resolve([]string{goodsRoot}, []*artifact.Class{second, first})
	if len(mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(mappings))
	}
	if mappings[0].RepositoryType != "com.example.z.GoodsRepository" {
		t.Errorf("repository = %q, want first-template match", mappings[0].RepositoryType)
	}
	if mappings[0].Strategy != NamingConvention {
		t.Errorf("strategy = %q", mappings[0].Strategy)
	}
}

func TestNamingTieBreakIsFirstLexical(t *testing.T) {
	a := namedRepo("com.example.a.GoodsRepository")
	b := namedRepo("com.example.b.GoodsRepository")

	mappings := resolver(t).Resolve([]string{goodsRoot}, []*artifact.Class{b, a})
	if len(mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(mappings))
	}
	if mappings[0].RepositoryType != "com.example.a.GoodsRepository" {
		t.Errorf("repository = %q, want first lexical match", mappings[0].RepositoryType)
	}
}

func TestUnmatchedRootOmitted(t *testing.T) {
	mappings := resolver(t).Resolve([]string{goodsRoot}, []*artifact.Class{
		namedRepo("com.example.order.CustomerRepository"),
	})
	if len(mappings) != 0 {
		t.Errorf("expected no mappings, got %+v", mappings)
	}
}

func TestNonPublicAndSyntheticCandidatesSkipped(t *testing.T) {
	hidden := genericRepo("com.example.order.GoodsStore")
	hidden.Public = false
	synthetic := genericRepo("com.example.order.GoodsStoreSynthetic")
	synthetic.Synthetic = true

	mappings := resolver(t).Resolve([]string{goodsRoot}, []*artifact.Class{hidden, synthetic})
	if len(mappings) != 0 {
		t.Errorf("expected no mappings from ineligible candidates, got %+v", mappings)
	}
}

func TestReadMethodSelection(t *testing.T) {
	repo := genericRepo("com.example.order.GoodsStore")
	repo.Methods = append(repo.Methods, artifact.Method{
		Name: "deleteAll", Descriptor: "()V",
	})

	mappings := resolver(t).Resolve([]string{goodsRoot}, []*artifact.Class{repo})
	if len(mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(mappings))
	}

	names := make(map[string]bool)
	for _, sig := range mappings[0].ReadMethods {
		names[sig.Name] = true
	}
	if !names["findByIdOrErr"] {
		t.Error("findByIdOrErr should be a read method (prefix and return type)")
	}
	if names["deleteAll"] {
		t.Error("deleteAll should not be a read method")
	}
	// save returns void but does not carry a read prefix.
	if names["save"] {
		t.Error("save should not be a read method")
	}
}
