package artifact

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// parseJavaSource recovers artifact classes from a plain Java source file.
// It is a best-effort fallback for builds that emit no classmeta sidecars:
// method descriptors are source-derived pseudo-descriptors and receiver
// types are resolved through imports, fields, parameters, and local
// declarations. Invocations whose receiver type cannot be resolved are
// dropped rather than guessed.
func parseJavaSource(data []byte) ([]*Class, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, data)
	if err != nil {
		return nil, err
	}
	root := tree.RootNode()

	pkg := packageName(root, data)
	imports := importMap(root, data)

	src := &javaFile{content: data, pkg: pkg, imports: imports}

	var classes []*Class
	iter := sitter.NewIterator(root, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}
		if n.Type() == "class_declaration" || n.Type() == "interface_declaration" {
			if c := src.extractClass(n); c != nil {
				classes = append(classes, c)
			}
		}
	}
	return classes, nil
}

// javaFile carries per-file resolution context.
type javaFile struct {
	content []byte
	pkg     string
	imports map[string]string // simple name -> fully qualified name
}

func packageName(root *sitter.Node, content []byte) string {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if child.Type() != "package_declaration" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			sub := child.Child(j)
			if sub.Type() == "scoped_identifier" || sub.Type() == "identifier" {
				return sub.Content(content)
			}
		}
	}
	return ""
}

func importMap(root *sitter.Node, content []byte) map[string]string {
	imports := make(map[string]string)
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if child.Type() != "import_declaration" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			sub := child.Child(j)
			if sub.Type() == "scoped_identifier" {
				fqn := sub.Content(content)
				if dot := strings.LastIndex(fqn, "."); dot >= 0 {
					imports[fqn[dot+1:]] = fqn
				}
			}
		}
	}
	return imports
}

func (f *javaFile) extractClass(node *sitter.Node) *Class {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := nameNode.Content(f.content)

	fqn := name
	if f.pkg != "" {
		fqn = f.pkg + "." + name
	}

	c := &Class{
		Type:   fqn,
		Public: f.hasPublicModifier(node),
	}

	f.extractInterfaces(node, c)
	f.extractAnnotations(node, c)

	body := node.ChildByFieldName("body")
	if body == nil {
		return c
	}

	fields := f.fieldTypes(body)
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		if child.Type() == "method_declaration" {
			if m := f.extractMethod(child, fqn, fields); m != nil {
				c.Methods = append(c.Methods, *m)
			}
		}
	}
	return c
}

func (f *javaFile) hasPublicModifier(node *sitter.Node) bool {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			if child.Child(j).Type() == "public" {
				return true
			}
		}
	}
	return false
}

// extractInterfaces records implemented/extended interfaces with their
// generic type arguments resolved to fully qualified names.
func (f *javaFile) extractInterfaces(node *sitter.Node, c *Class) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "super_interfaces" && child.Type() != "extends_interfaces" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			list := child.Child(j)
			if list.Type() != "type_list" {
				continue
			}
			for k := 0; k < int(list.ChildCount()); k++ {
				if ref := f.typeRef(list.Child(k)); ref != nil {
					c.Interfaces = append(c.Interfaces, *ref)
				}
			}
		}
	}
}

func (f *javaFile) typeRef(node *sitter.Node) *TypeRef {
	switch node.Type() {
	case "type_identifier":
		return &TypeRef{Name: f.resolveType(node.Content(f.content))}
	case "generic_type":
		ref := &TypeRef{}
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			switch child.Type() {
			case "type_identifier":
				ref.Name = f.resolveType(child.Content(f.content))
			case "type_arguments":
				for j := 0; j < int(child.ChildCount()); j++ {
					arg := child.Child(j)
					if arg.Type() == "type_identifier" || arg.Type() == "generic_type" {
						ref.TypeArguments = append(ref.TypeArguments, f.resolveType(firstTypeName(arg, f.content)))
					}
				}
			}
		}
		if ref.Name == "" {
			return nil
		}
		return ref
	}
	return nil
}

func firstTypeName(node *sitter.Node, content []byte) string {
	if node.Type() == "type_identifier" {
		return node.Content(content)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if name := firstTypeName(node.Child(i), content); name != "" {
			return name
		}
	}
	return ""
}

// extractAnnotations records type-level annotations. A class literal inside
// the annotation arguments (e.g. @Repository(Goods.class)) becomes the
// annotation's target type.
func (f *javaFile) extractAnnotations(node *sitter.Node, c *Class) {
	for i := 0; i < int(node.ChildCount()); i++ {
		mods := node.Child(i)
		if mods.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(mods.ChildCount()); j++ {
			ann := mods.Child(j)
			if ann.Type() != "annotation" && ann.Type() != "marker_annotation" {
				continue
			}
			ref := AnnotationRef{}
			if nameNode := ann.ChildByFieldName("name"); nameNode != nil {
				ref.Type = f.resolveType(nameNode.Content(f.content))
			}
			if args := ann.ChildByFieldName("arguments"); args != nil {
				ref.TargetType = f.classLiteralTarget(args)
			}
			if ref.Type != "" {
				c.Annotations = append(c.Annotations, ref)
			}
		}
	}
}

func (f *javaFile) classLiteralTarget(args *sitter.Node) string {
	iter := sitter.NewIterator(args, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}
		if n.Type() == "class_literal" {
			text := n.Content(f.content)
			return f.resolveType(strings.TrimSuffix(text, ".class"))
		}
	}
	return ""
}

func (f *javaFile) extractMethod(node *sitter.Node, owner string, fields map[string]string) *Method {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	m := &Method{
		Name:      nameNode.Content(f.content),
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}

	env := make(map[string]string, len(fields))
	for k, v := range fields {
		env[k] = v
	}

	var paramTypes []string
	if params := node.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.ChildCount()); i++ {
			p := params.Child(i)
			if p.Type() != "formal_parameter" {
				continue
			}
			typeNode := p.ChildByFieldName("type")
			pname := p.ChildByFieldName("name")
			if typeNode == nil || pname == nil {
				continue
			}
			resolved := f.resolveType(typeText(typeNode, f.content))
			paramTypes = append(paramTypes, resolved)
			env[pname.Content(f.content)] = resolved
		}
	}
	m.Descriptor = "(" + strings.Join(paramTypes, ",") + ")"

	body := node.ChildByFieldName("body")
	if body == nil {
		return m
	}

	f.collectLocals(body, env)
	f.collectInvocations(body, owner, env, m)
	return m
}

// fieldTypes maps declared field names to their resolved types.
func (f *javaFile) fieldTypes(classBody *sitter.Node) map[string]string {
	fields := make(map[string]string)
	for i := 0; i < int(classBody.ChildCount()); i++ {
		child := classBody.Child(i)
		if child.Type() != "field_declaration" {
			continue
		}
		typeNode := child.ChildByFieldName("type")
		if typeNode == nil {
			continue
		}
		resolved := f.resolveType(typeText(typeNode, f.content))
		for j := 0; j < int(child.ChildCount()); j++ {
			decl := child.Child(j)
			if decl.Type() != "variable_declarator" {
				continue
			}
			if nameNode := decl.ChildByFieldName("name"); nameNode != nil {
				fields[nameNode.Content(f.content)] = resolved
			}
		}
	}
	return fields
}

func (f *javaFile) collectLocals(body *sitter.Node, env map[string]string) {
	iter := sitter.NewIterator(body, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}
		if n.Type() != "local_variable_declaration" {
			continue
		}
		typeNode := n.ChildByFieldName("type")
		if typeNode == nil {
			continue
		}
		resolved := f.resolveType(typeText(typeNode, f.content))
		for i := 0; i < int(n.ChildCount()); i++ {
			decl := n.Child(i)
			if decl.Type() != "variable_declarator" {
				continue
			}
			if nameNode := decl.ChildByFieldName("name"); nameNode != nil {
				env[nameNode.Content(f.content)] = resolved
			}
		}
	}
}

func (f *javaFile) collectInvocations(body *sitter.Node, owner string, env map[string]string, m *Method) {
	iter := sitter.NewIterator(body, sitter.DFSMode)
	for {
		n, err := iter.Next()
		if err != nil || n == nil {
			break
		}
		if n.Type() != "method_invocation" {
			continue
		}

		nameNode := n.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}

		recvType := f.receiverType(n.ChildByFieldName("object"), owner, env)
		if recvType == "" {
			continue
		}

		m.Invocations = append(m.Invocations, Invocation{
			Owner:     recvType,
			Name:      nameNode.Content(f.content),
			StartLine: int(n.StartPoint().Row) + 1,
			EndLine:   int(n.EndPoint().Row) + 1,
		})
	}
}

// receiverType resolves the static type of an invocation receiver. A nil
// receiver is an unqualified call on the current class.
func (f *javaFile) receiverType(object *sitter.Node, owner string, env map[string]string) string {
	if object == nil {
		return owner
	}
	switch object.Type() {
	case "this":
		return owner
	case "identifier":
		name := object.Content(f.content)
		if t, ok := env[name]; ok {
			return t
		}
		// Uppercase identifier with no binding reads as a static call.
		if name != "" && name[0] >= 'A' && name[0] <= 'Z' {
			return f.resolveType(name)
		}
		return ""
	case "field_access":
		obj := object.ChildByFieldName("object")
		fieldNode := object.ChildByFieldName("field")
		if obj != nil && obj.Type() == "this" && fieldNode != nil {
			if t, ok := env[fieldNode.Content(f.content)]; ok {
				return t
			}
		}
		return ""
	default:
		// Chained calls and other receiver shapes stay unresolved.
		return ""
	}
}

func typeText(node *sitter.Node, content []byte) string {
	text := node.Content(content)
	if i := strings.IndexByte(text, '<'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSuffix(text, "[]")
}

// resolveType maps a simple type name to a fully qualified one using the
// file's imports, falling back to java.lang for well-known names and to
// the file's own package otherwise.
func (f *javaFile) resolveType(name string) string {
	if name == "" || strings.Contains(name, ".") {
		return name
	}
	if fqn, ok := f.imports[name]; ok {
		return fqn
	}
	switch name {
	case "String", "Object", "Integer", "Long", "Double", "Float", "Boolean", "Character", "Byte", "Short":
		return "java.lang." + name
	case "int", "long", "double", "float", "boolean", "char", "byte", "short", "void":
		return name
	}
	if f.pkg != "" {
		return f.pkg + "." + name
	}
	return name
}
