// Package manifest reads and writes a static class index of the icon
// library, and serves it as a discovery source when the library itself is
// not installed.
package manifest

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/archnodes/internal/discovery"
	"github.com/zjrosen/archnodes/internal/log"
	"github.com/zjrosen/archnodes/internal/provider"
)

//go:embed manifests/*.yaml
var embedded embed.FS

// EmbeddedName is the file name of the manifest compiled into the binary.
const EmbeddedName = "manifests/diagrams.yaml"

// ErrInvalid is returned for manifests that cannot serve as a class index.
var ErrInvalid = errors.New("invalid library manifest")

// Manifest is a versioned snapshot of every category module and class the
// library ships, per provider.
type Manifest struct {
	Library   string                          `yaml:"library"`
	Version   string                          `yaml:"version"`
	Providers map[string]map[string]ModuleDef `yaml:"providers"`
}

// ModuleDef describes one category module.
type ModuleDef struct {
	Module  string            `yaml:"module"`
	Classes []string          `yaml:"classes"`
	Aliases map[string]string `yaml:"aliases,omitempty"` // alias -> class
}

// Parse decodes and validates a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrInvalid, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses the manifest at name in fsys.
func Load(fsys fs.FS, name string) (*Manifest, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

// Embedded returns the manifest compiled into the binary.
func Embedded() (*Manifest, error) {
	return Load(embedded, EmbeddedName)
}

// Validate checks that every provider is known, every module has a path and
// classes, and every alias binds a class of its own module.
func (m *Manifest) Validate() error {
	var problems []string
	if m.Library == "" {
		problems = append(problems, "library is required")
	}
	if len(m.Providers) == 0 {
		problems = append(problems, "providers is required")
	}
	for _, pname := range sortedKeys(m.Providers) {
		if _, err := provider.Parse(pname); err != nil {
			problems = append(problems, fmt.Sprintf("providers.%s: unknown provider", pname))
			continue
		}
		modules := m.Providers[pname]
		for _, cname := range sortedKeys(modules) {
			def := modules[cname]
			at := "providers." + pname + "." + cname
			if def.Module == "" {
				problems = append(problems, at+": module is required")
			}
			if len(def.Classes) == 0 {
				problems = append(problems, at+": classes is required")
			}
			classes := make(map[string]bool, len(def.Classes))
			for _, c := range def.Classes {
				classes[c] = true
			}
			for _, alias := range sortedKeys(def.Aliases) {
				if !classes[def.Aliases[alias]] {
					problems = append(problems, fmt.Sprintf("%s: alias %s binds unknown class %q", at, alias, def.Aliases[alias]))
				}
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Encode writes m as YAML.
func (m *Manifest) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return enc.Close()
}

// Source is the subset of discovery.Engine that Build reads from.
type Source interface {
	Categories(ctx context.Context, p provider.Provider) ([]discovery.Category, error)
	ClassesFor(ctx context.Context, p provider.Provider, category string) ([]discovery.Class, error)
}

// Build captures everything src discovers for providers into a manifest.
func Build(ctx context.Context, src Source, library, version string, providers ...provider.Provider) (*Manifest, error) {
	if len(providers) == 0 {
		providers = provider.All()
	}
	m := &Manifest{
		Library:   library,
		Version:   version,
		Providers: make(map[string]map[string]ModuleDef, len(providers)),
	}
	for _, p := range providers {
		categories, err := src.Categories(ctx, p)
		if err != nil {
			return nil, err
		}
		modules := make(map[string]ModuleDef, len(categories))
		for _, c := range categories {
			classes, err := src.ClassesFor(ctx, p, c.Name)
			if err != nil {
				return nil, err
			}
			def := ModuleDef{Module: c.Module}
			for _, class := range classes {
				if class.AliasOf != "" {
					if def.Aliases == nil {
						def.Aliases = make(map[string]string)
					}
					def.Aliases[class.Name] = class.AliasOf
					continue
				}
				def.Classes = append(def.Classes, class.Name)
			}
			modules[c.Name] = def
		}
		m.Providers[p.String()] = modules
	}
	return m, nil
}

// Introspector serves a manifest through discovery.Introspector.
type Introspector struct {
	manifest atomic.Pointer[Manifest]
	load     func() (*Manifest, error)
}

// NewIntrospector wraps a validated manifest. Reload is a no-op.
func NewIntrospector(m *Manifest) *Introspector {
	i := &Introspector{}
	i.manifest.Store(m)
	return i
}

// NewFileIntrospector loads the manifest at name in fsys and re-reads it on
// every Reload.
func NewFileIntrospector(fsys fs.FS, name string) (*Introspector, error) {
	i := &Introspector{load: func() (*Manifest, error) { return Load(fsys, name) }}
	m, err := i.load()
	if err != nil {
		return nil, err
	}
	i.manifest.Store(m)
	return i, nil
}

// Manifest returns the manifest currently served.
func (i *Introspector) Manifest() *Manifest {
	return i.manifest.Load()
}

// Reload re-reads the manifest file. On failure the previous manifest stays in place.
func (i *Introspector) Reload(context.Context) error {
	if i.load == nil {
		return nil
	}
	m, err := i.load()
	if err != nil {
		return err
	}
	i.manifest.Store(m)
	log.Info(log.CatDiscovery, "Reloaded manifest", "library", m.Library, "version", m.Version)
	return nil
}

func (i *Introspector) Categories(_ context.Context, p provider.Provider) ([]discovery.Category, error) {
	m := i.manifest.Load()
	modules, ok := m.Providers[p.String()]
	if !ok {
		return nil, fmt.Errorf("manifest %s %s has no provider %s", m.Library, m.Version, p)
	}
	categories := make([]discovery.Category, 0, len(modules))
	for _, name := range sortedKeys(modules) {
		categories = append(categories, discovery.Category{Name: name, Module: modules[name].Module})
	}
	return categories, nil
}

func (i *Introspector) Classes(_ context.Context, p provider.Provider, c discovery.Category) ([]discovery.Class, error) {
	def, ok := i.manifest.Load().Providers[p.String()][c.Name]
	if !ok {
		return nil, nil
	}
	classes := make([]discovery.Class, 0, len(def.Classes)+len(def.Aliases))
	for _, name := range def.Classes {
		classes = append(classes, discovery.Class{Name: name, Module: def.Module, Category: c.Name})
	}
	for _, alias := range sortedKeys(def.Aliases) {
		classes = append(classes, discovery.Class{
			Name:     alias,
			Module:   def.Module,
			Category: c.Name,
			AliasOf:  def.Aliases[alias],
		})
	}
	return classes, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
