// Package pysource discovers node classes by parsing the source of an
// installed python diagrams package with tree-sitter.
//
// The package is laid out as <root>/<provider>/<category>.py. Every public
// module in a provider directory is a category; every public top-level class
// in it is a node class, and module-level assignments of the form
// `Alias = Class` are alias bindings that can be imported like classes.
package pysource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/zjrosen/archnodes/internal/discovery"
	"github.com/zjrosen/archnodes/internal/log"
	"github.com/zjrosen/archnodes/internal/provider"
)

// DefaultPackage is the import name of the icon library.
const DefaultPackage = "diagrams"

// ErrNotPackage reports a root that does not look like an installed diagrams package.
var ErrNotPackage = errors.New("not a diagrams package")

// Introspector implements discovery.Introspector over python source files.
type Introspector struct {
	fsys fs.FS
	pkg  string
}

// New creates an Introspector over fsys, whose root is the package directory
// imported as pkg.
func New(fsys fs.FS, pkg string) *Introspector {
	if pkg == "" {
		pkg = DefaultPackage
	}
	return &Introspector{fsys: fsys, pkg: pkg}
}

// NewDir creates an Introspector for the package installed at root
// (e.g. .venv/lib/python3.12/site-packages/diagrams).
func NewDir(root string) *Introspector {
	return New(os.DirFS(root), filepath.Base(filepath.Clean(root)))
}

func (i *Introspector) Categories(ctx context.Context, p provider.Provider) ([]discovery.Category, error) {
	dir := p.String()
	entries, err := fs.ReadDir(i.fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read provider package %s.%s: %w", i.pkg, dir, err)
	}
	if _, err := fs.Stat(i.fsys, path.Join(dir, "__init__.py")); err != nil {
		return nil, fmt.Errorf("%s.%s is not a python package: %w", i.pkg, dir, err)
	}

	var categories []discovery.Category
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, ok := strings.CutSuffix(entry.Name(), ".py")
		if entry.IsDir() || !ok || strings.HasPrefix(name, "_") {
			continue
		}
		categories = append(categories, discovery.Category{
			Name:   name,
			Module: i.module(p, name),
		})
	}
	return categories, nil
}

func (i *Introspector) Classes(ctx context.Context, p provider.Provider, c discovery.Category) ([]discovery.Class, error) {
	file := path.Join(p.String(), c.Name+".py")
	content, err := fs.ReadFile(i.fsys, file)
	if err != nil {
		return nil, fmt.Errorf("read module %s: %w", c.Module, err)
	}

	classes, err := parseModule(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("parse module %s: %w", c.Module, err)
	}

	module := c.Module
	if module == "" {
		module = i.module(p, c.Name)
	}
	for j := range classes {
		classes[j].Module = module
		classes[j].Category = c.Name
	}
	log.Debug(log.CatDiscovery, "Parsed library module", "file", file, "classes", len(classes))
	return classes, nil
}

func (i *Introspector) module(p provider.Provider, category string) string {
	return i.pkg + "." + p.String() + "." + category
}

// parseModule extracts public classes and alias bindings from one module.
// Aliases are only kept when they bind a class defined in the same module.
func parseModule(ctx context.Context, content []byte) ([]discovery.Class, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		log.Warn(log.CatDiscovery, "Library module has syntax errors, extracting what parsed")
	}

	var (
		classes []discovery.Class
		defined = make(map[string]bool)
		aliases = make(map[string]string)
		order   []string
	)
	for n := 0; n < int(root.NamedChildCount()); n++ {
		child := root.NamedChild(n)
		switch child.Type() {
		case "class_definition":
			if name := className(child, content); isPublic(name) && !defined[name] {
				defined[name] = true
				classes = append(classes, discovery.Class{Name: name})
			}
		case "decorated_definition":
			if def := child.ChildByFieldName("definition"); def != nil && def.Type() == "class_definition" {
				if name := className(def, content); isPublic(name) && !defined[name] {
					defined[name] = true
					classes = append(classes, discovery.Class{Name: name})
				}
			}
		case "expression_statement":
			name, target, ok := aliasBinding(child, content)
			if ok && isPublic(name) {
				if _, seen := aliases[name]; !seen {
					order = append(order, name)
				}
				aliases[name] = target
			}
		}
	}

	for _, name := range order {
		target := aliases[name]
		if defined[name] || !defined[target] {
			continue
		}
		classes = append(classes, discovery.Class{Name: name, AliasOf: target})
	}

	sort.Slice(classes, func(a, b int) bool { return classes[a].Name < classes[b].Name })
	return classes, nil
}

func className(node *sitter.Node, content []byte) string {
	name := node.ChildByFieldName("name")
	if name == nil {
		return ""
	}
	return name.Content(content)
}

// aliasBinding matches `Name = Other` where both sides are plain identifiers.
func aliasBinding(stmt *sitter.Node, content []byte) (name, target string, ok bool) {
	if stmt.NamedChildCount() != 1 {
		return "", "", false
	}
	assign := stmt.NamedChild(0)
	if assign.Type() != "assignment" {
		return "", "", false
	}
	left := assign.ChildByFieldName("left")
	right := assign.ChildByFieldName("right")
	if left == nil || right == nil || left.Type() != "identifier" || right.Type() != "identifier" {
		return "", "", false
	}
	return left.Content(content), right.Content(content), true
}

func isPublic(name string) bool {
	return name != "" && !strings.HasPrefix(name, "_")
}

// Check verifies that root holds at least one provider package.
func Check(fsys fs.FS) error {
	for _, p := range provider.All() {
		if _, err := fs.Stat(fsys, path.Join(p.String(), "__init__.py")); err == nil {
			return nil
		}
	}
	return ErrNotPackage
}
