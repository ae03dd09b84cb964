package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/archnodes/internal/log"
	"github.com/zjrosen/archnodes/internal/naming"
	"github.com/zjrosen/archnodes/internal/provider"
	"github.com/zjrosen/archnodes/internal/tracing"
)

// DefaultIntrospectTimeout bounds a single introspection call.
const DefaultIntrospectTimeout = 10 * time.Second

// errNoCategories is the cause recorded when a provider exposes no category modules.
var errNoCategories = errors.New("no category modules found")

// Options configures an Engine.
type Options struct {
	// IntrospectTimeout bounds each Categories/Classes call. Zero uses DefaultIntrospectTimeout.
	IntrospectTimeout time.Duration

	// Tracer records a span per introspection. Nil disables tracing.
	Tracer trace.Tracer
}

// Engine is the authoritative, lazily built index of library classes.
//
// All reads go through the current generation. A generation populates each
// provider's category listing and each category's class set at most once;
// concurrent first callers block on the same population and then share the
// read-only result. Failures are recorded in the slot and returned to every
// later caller, so a broken installation is never re-introspected per request.
type Engine struct {
	introspector Introspector
	timeout      time.Duration
	tracer       trace.Tracer

	refreshMu sync.Mutex
	current   atomic.Pointer[generation]
}

type generation struct {
	id        string
	createdAt time.Time
	providers map[provider.Provider]*providerSlot
}

type providerSlot struct {
	once       sync.Once
	touched    atomic.Bool
	categories []Category               // sorted by Name
	byName     map[string]*categorySlot // naming.Normalize(category name)
	err        error
}

type categorySlot struct {
	category Category
	once     sync.Once
	set      *classSet
	err      error
}

// NewEngine creates an Engine over introspector. Nothing is introspected
// until the first query or an explicit Warm.
func NewEngine(introspector Introspector, opts Options) *Engine {
	e := &Engine{
		introspector: introspector,
		timeout:      opts.IntrospectTimeout,
		tracer:       opts.Tracer,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultIntrospectTimeout
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("discovery")
	}
	e.current.Store(newGeneration())
	return e
}

func newGeneration() *generation {
	g := &generation{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		providers: make(map[provider.Provider]*providerSlot, len(provider.All())),
	}
	for _, p := range provider.All() {
		g.providers[p] = &providerSlot{}
	}
	return g
}

// Generation returns the id of the index generation currently served.
func (e *Engine) Generation() string {
	return e.current.Load().id
}

// Categories lists the provider's category modules, sorted by name.
func (e *Engine) Categories(ctx context.Context, p provider.Provider) ([]Category, error) {
	slot, err := e.provider(ctx, e.current.Load(), p)
	if err != nil {
		return nil, err
	}
	out := make([]Category, len(slot.categories))
	copy(out, slot.categories)
	return out, nil
}

// ClassesFor returns the classes discovered in one category, sorted by name.
// A category the library does not have yields an empty result, not an error.
func (e *Engine) ClassesFor(ctx context.Context, p provider.Provider, category string) ([]Class, error) {
	set, err := e.classSet(ctx, e.current.Load(), p, category)
	if err != nil || set == nil {
		return nil, err
	}
	return set.list(), nil
}

// FindClass looks up name in one category by exact identity: first verbatim,
// then after case-folding and stripping separators.
func (e *Engine) FindClass(ctx context.Context, p provider.Provider, category, name string) (Class, bool, error) {
	set, err := e.classSet(ctx, e.current.Load(), p, category)
	if err != nil || set == nil {
		return Class{}, false, err
	}
	c, ok := set.find(name)
	return c, ok, nil
}

// FindClassAnyCategory scans every category of the provider in name order.
// A verbatim match in any category wins over a normalized match in an
// earlier one.
func (e *Engine) FindClassAnyCategory(ctx context.Context, p provider.Provider, name string) (Class, bool, error) {
	gen := e.current.Load()
	slot, err := e.provider(ctx, gen, p)
	if err != nil {
		return Class{}, false, err
	}

	sets := make([]*classSet, 0, len(slot.categories))
	for _, c := range slot.categories {
		set, err := e.classSet(ctx, gen, p, c.Name)
		if err != nil {
			return Class{}, false, err
		}
		if c, ok := set.byName[name]; ok {
			return c, true, nil
		}
		sets = append(sets, set)
	}

	key := naming.Normalize(name)
	if key == "" {
		return Class{}, false, nil
	}
	for _, set := range sets {
		if c, ok := set.byNorm[key]; ok {
			return c, true, nil
		}
	}
	return Class{}, false, nil
}

// AllClasses returns every class of the provider ordered by category, then name.
func (e *Engine) AllClasses(ctx context.Context, p provider.Provider) ([]Class, error) {
	gen := e.current.Load()
	slot, err := e.provider(ctx, gen, p)
	if err != nil {
		return nil, err
	}
	var out []Class
	for _, c := range slot.categories {
		set, err := e.classSet(ctx, gen, p, c.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, set.classes...)
	}
	return out, nil
}

// Warm populates every category of the given providers (all providers when
// none are named) in parallel. It returns the failures joined together.
func (e *Engine) Warm(ctx context.Context, providers ...provider.Provider) error {
	return e.warm(ctx, e.current.Load(), providers)
}

func (e *Engine) warm(ctx context.Context, gen *generation, providers []provider.Provider) error {
	if len(providers) == 0 {
		providers = provider.All()
	}

	errs := make([]error, len(providers))
	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			slot, err := e.provider(ctx, gen, p)
			if err != nil {
				errs[i] = err
				return nil
			}
			for _, c := range slot.categories {
				if _, err := e.classSet(ctx, gen, p, c.Name); err != nil {
					errs[i] = err
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Refresh builds a new generation and atomically swaps it in. An introspector
// that implements Reloader is reloaded first; if that fails the current
// generation stays. Providers that
// were in use are re-introspected before the swap so readers never wait on
// the new generation. Sticky failures of the old generation are discarded.
// Concurrent Refresh calls are serialized.
func (e *Engine) Refresh(ctx context.Context) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	if r, ok := e.introspector.(Reloader); ok {
		if err := r.Reload(ctx); err != nil {
			log.ErrorErr(log.CatDiscovery, "Library reload failed, keeping current generation", err,
				"generation", e.current.Load().id)
			return fmt.Errorf("%w: reload: %w", ErrLibraryUnavailable, err)
		}
	}

	old := e.current.Load()
	var inUse []provider.Provider
	for _, p := range provider.All() {
		if old.providers[p].touched.Load() {
			inUse = append(inUse, p)
		}
	}

	next := newGeneration()
	var err error
	if len(inUse) > 0 {
		err = e.warm(ctx, next, inUse)
	}
	e.current.Store(next)

	log.Info(log.CatDiscovery, "Swapped discovery generation",
		"old", old.id, "new", next.id, "warmed", len(inUse), "error", err)
	return err
}

func (e *Engine) provider(ctx context.Context, gen *generation, p provider.Provider) (*providerSlot, error) {
	slot, ok := gen.providers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknownProvider, p)
	}
	slot.touched.Store(true)
	slot.once.Do(func() {
		slot.categories, slot.err = e.listCategories(ctx, p)
		if slot.err != nil {
			return
		}
		slot.byName = make(map[string]*categorySlot, len(slot.categories))
		for _, c := range slot.categories {
			slot.byName[naming.Normalize(c.Name)] = &categorySlot{category: c}
		}
	})
	return slot, slot.err
}

// classSet returns nil, nil when the provider has no such category.
func (e *Engine) classSet(ctx context.Context, gen *generation, p provider.Provider, category string) (*classSet, error) {
	pslot, err := e.provider(ctx, gen, p)
	if err != nil {
		return nil, err
	}
	cslot, ok := pslot.byName[naming.Normalize(category)]
	if !ok {
		return nil, nil
	}
	cslot.once.Do(func() {
		cslot.set, cslot.err = e.listClasses(ctx, p, cslot.category)
	})
	return cslot.set, cslot.err
}

func (e *Engine) listCategories(ctx context.Context, p provider.Provider) ([]Category, error) {
	ctx, cancel := e.introspectContext(ctx)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, tracing.SpanCategories,
		trace.WithAttributes(attribute.String(tracing.AttrProvider, p.String())))
	defer span.End()

	start := time.Now()
	found, err := e.introspector.Categories(ctx, p)
	if err == nil && len(found) == 0 {
		err = errNoCategories
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.ErrorErr(log.CatDiscovery, "Library unavailable", err, "provider", p)
		return nil, &UnavailableError{Provider: p, Err: err}
	}

	categories := make([]Category, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, c := range found {
		key := naming.Normalize(c.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		return categories[i].Name < categories[j].Name
	})

	span.SetAttributes(attribute.Int("categories", len(categories)))
	log.Debug(log.CatDiscovery, "Listed categories",
		"provider", p, "count", len(categories), "duration", time.Since(start))
	return categories, nil
}

func (e *Engine) listClasses(ctx context.Context, p provider.Provider, c Category) (*classSet, error) {
	ctx, cancel := e.introspectContext(ctx)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, tracing.SpanIntrospect,
		trace.WithAttributes(
			attribute.String(tracing.AttrProvider, p.String()),
			attribute.String(tracing.AttrCategory, c.Name),
		))
	defer span.End()

	start := time.Now()
	found, err := e.introspector.Classes(ctx, p, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.ErrorErr(log.CatDiscovery, "Category introspection failed", err,
			"provider", p, "category", c.Name)
		return nil, &UnavailableError{Provider: p, Category: c.Name, Err: err}
	}

	set := newClassSet(c, found)
	span.SetAttributes(attribute.Int("classes", len(set.classes)))
	log.Debug(log.CatDiscovery, "Introspected category",
		"provider", p, "category", c.Name, "module", c.Module,
		"classes", len(set.classes), "duration", time.Since(start))
	return set, nil
}

// introspectContext detaches from the first caller's cancellation: the
// result is shared with every waiter, so one caller giving up must not
// poison the slot for the others.
func (e *Engine) introspectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
}
