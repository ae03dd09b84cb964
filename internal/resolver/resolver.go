// Package resolver is the public entry point of the engine: it maps a
// component descriptor to a concrete icon class by asking, in order, the
// discovery index (hinted category), the registry (verified against
// discovery), the discovery index (every category) and the fuzzy resolver.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/archnodes/internal/cachemanager"
	"github.com/zjrosen/archnodes/internal/catalog"
	"github.com/zjrosen/archnodes/internal/discovery"
	"github.com/zjrosen/archnodes/internal/fuzzy"
	"github.com/zjrosen/archnodes/internal/log"
	"github.com/zjrosen/archnodes/internal/naming"
	"github.com/zjrosen/archnodes/internal/provider"
	"github.com/zjrosen/archnodes/internal/tracing"
)

// DefaultConcurrency bounds ResolveAll.
const DefaultConcurrency = 8

// ErrEmptyDescriptor is returned for a descriptor with neither id nor display name.
var ErrEmptyDescriptor = errors.New("descriptor has no id")

// Registry is the registry store as the resolver uses it.
type Registry interface {
	Get(p provider.Provider) (*catalog.Catalog, error)
	Reload() error
}

// Discovery is the discovery index as the resolver uses it.
type Discovery interface {
	fuzzy.Index
	Generation() string
	FindClass(ctx context.Context, p provider.Provider, category, name string) (discovery.Class, bool, error)
	FindClassAnyCategory(ctx context.Context, p provider.Provider, name string) (discovery.Class, bool, error)
	Refresh(ctx context.Context) error
}

// Options configures a Resolver.
type Options struct {
	Fuzzy fuzzy.Options

	// CacheTTL is how long a fuzzy outcome is kept. Zero uses cachemanager.DefaultExpiration.
	CacheTTL time.Duration

	// CacheCleanupInterval is how often expired outcomes are dropped.
	CacheCleanupInterval time.Duration

	// DisableCache recomputes every fuzzy resolution.
	DisableCache bool

	// SlidingTTL restarts an outcome's ttl on every cache hit.
	SlidingTTL bool

	// Concurrency bounds ResolveAll. Zero uses DefaultConcurrency.
	Concurrency int

	Tracer trace.Tracer
}

// DefaultOptions returns the default fuzzy parameters with caching enabled.
func DefaultOptions() Options {
	return Options{
		Fuzzy:                fuzzy.DefaultOptions(),
		CacheTTL:             cachemanager.DefaultExpiration,
		CacheCleanupInterval: cachemanager.DefaultCleanupInterval,
		Concurrency:          DefaultConcurrency,
	}
}

type cacheKey string

type fuzzyInput struct {
	provider provider.Provider
	query    fuzzy.Query
	catalog  *catalog.Catalog
}

// Resolver owns the resolution caches. It is safe for concurrent use.
type Resolver struct {
	registry    Registry
	discovery   Discovery
	fuzzy       *fuzzy.Resolver
	tracer      trace.Tracer
	concurrency int
	ttl         time.Duration
	sliding     bool

	cache    cachemanager.CacheManager[cacheKey, fuzzy.Outcome]
	outcomes *cachemanager.ReadThroughCache[cacheKey, fuzzy.Outcome, fuzzyInput]

	refreshMu sync.Mutex
}

// New creates a Resolver. The fuzzy options are validated here so a bad
// configuration fails at startup.
func New(registry Registry, disc Discovery, opts Options) (*Resolver, error) {
	if err := opts.Fuzzy.Validate(); err != nil {
		return nil, err
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cachemanager.DefaultExpiration
	}
	if opts.CacheCleanupInterval <= 0 {
		opts.CacheCleanupInterval = cachemanager.DefaultCleanupInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("resolver")
	}

	r := &Resolver{
		registry:    registry,
		discovery:   disc,
		fuzzy:       fuzzy.NewResolver(disc, opts.Fuzzy),
		tracer:      opts.Tracer,
		concurrency: opts.Concurrency,
		ttl:         opts.CacheTTL,
		sliding:     opts.SlidingTTL,
		cache: cachemanager.NewInMemoryCacheManager[cacheKey, fuzzy.Outcome](
			"fuzzy-outcomes", opts.CacheTTL, opts.CacheCleanupInterval),
	}
	r.outcomes = cachemanager.NewReadThroughCache[cacheKey, fuzzy.Outcome, fuzzyInput](
		r.cache, r.computeFuzzy, opts.DisableCache)
	return r, nil
}

// Resolve maps d to a class. The error is reserved for fatal conditions: an
// unknown provider, a provider whose catalog failed to load, or a library that
// cannot be introspected. Not finding a class is a Result with MatchNone.
func (r *Resolver) Resolve(ctx context.Context, d Descriptor) (Result, error) {
	ctx, span := r.tracer.Start(ctx, tracing.SpanResolve,
		trace.WithAttributes(
			attribute.String(tracing.AttrProvider, string(d.Provider)),
			attribute.String(tracing.AttrComponentID, d.ID),
		))
	defer span.End()

	res, err := r.resolve(ctx, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(
		attribute.String(tracing.AttrMatchedVia, string(res.MatchedVia)),
		attribute.Float64(tracing.AttrConfidence, res.Confidence),
		attribute.String(tracing.AttrClassName, res.ClassName),
	)
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, d Descriptor) (Result, error) {
	p, err := normalizeProvider(d.Provider)
	if err != nil {
		return Result{Descriptor: d, MatchedVia: MatchNone}, err
	}
	d.Provider = p
	id := descriptorID(d)
	if id == "" {
		return Result{Descriptor: d, MatchedVia: MatchNone}, ErrEmptyDescriptor
	}
	miss := Result{Descriptor: d, MatchedVia: MatchNone}

	cat, err := r.catalog(p)
	if err != nil {
		return miss, err
	}

	// 1. Hinted category, exact identity.
	if d.CategoryHint != "" {
		class, ok, err := r.discovery.FindClass(ctx, p, d.CategoryHint, id)
		if err != nil {
			return miss, err
		}
		if ok {
			return exact(d, class, MatchExactDiscovery), nil
		}
	}

	// 2. Registry hint, only if the library still has the class.
	var stale *catalog.Entry
	if cat != nil {
		if entry, ok := cat.Lookup(id); ok {
			class, found, err := r.discovery.FindClass(ctx, p, entry.Category, entry.ClassName)
			if err != nil {
				return miss, err
			}
			if found {
				return exact(d, class, MatchRegistryVerified), nil
			}
			stale = &entry
			log.Warn(log.CatResolve, "Registry entry points at a missing class",
				"provider", p, "id", entry.NodeID, "category", entry.Category, "class", entry.ClassName)
		}
	}

	// 3. Any category, exact identity.
	class, ok, err := r.discovery.FindClassAnyCategory(ctx, p, id)
	if err != nil {
		return miss, err
	}
	if ok {
		return exact(d, class, MatchExactDiscovery), nil
	}

	// 4. Fuzzy.
	q := fuzzyQuery(id, d)
	if stale != nil {
		q.Hints = append(q.Hints, stale.Description)
		q.Hints = append(q.Hints, stale.Keywords...)
	}
	out, err := r.cachedOutcome(ctx, r.key(p, q), fuzzyInput{provider: p, query: q, catalog: cat})
	if err != nil {
		return miss, err
	}

	if out.Accepted == nil {
		miss.Suggestions = suggestionsFrom(out.Candidates)
		log.Debug(log.CatResolve, "Unresolved", "provider", p, "id", id, "suggestions", len(miss.Suggestions))
		return miss, nil
	}

	best := *out.Accepted
	res := Result{
		Descriptor: d,
		ModulePath: best.Class.Module,
		ClassName:  best.Class.Name,
		Category:   best.Class.Category,
		MatchedVia: MatchFuzzy,
		Confidence: best.Score,
	}
	if len(out.Candidates) > 1 {
		res.Suggestions = suggestionsFrom(out.Candidates[1:])
	}
	return res, nil
}

// DescriptorError is the fatal error of one descriptor in ResolveAll.
type DescriptorError struct {
	Index      int
	Descriptor Descriptor
	Err        error
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Descriptor.ID, e.Err)
}

func (e *DescriptorError) Unwrap() error {
	return e.Err
}

// ResolveAll resolves every descriptor concurrently. Results keep the input
// order. A fatal error for one descriptor leaves a MatchNone result in its
// slot and is joined, as a *DescriptorError, into the returned error; the
// others still resolve.
func (r *Resolver) ResolveAll(ctx context.Context, descriptors []Descriptor) ([]Result, error) {
	ctx, span := r.tracer.Start(ctx, tracing.SpanResolveAll,
		trace.WithAttributes(attribute.Int("descriptors", len(descriptors))))
	defer span.End()

	results := make([]Result, len(descriptors))
	errs := make([]error, len(descriptors))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, d := range descriptors {
		g.Go(func() error {
			res, err := r.Resolve(ctx, d)
			results[i] = res
			if err != nil {
				errs[i] = &DescriptorError{Index: i, Descriptor: d, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "some descriptors failed")
	}
	return results, err
}

// Refresh reloads the catalogs and swaps in a new discovery generation. It is
// serialized; concurrent resolutions keep reading the previous state until
// each swap completes. When the catalogs fail to reload nothing changes.
func (r *Resolver) Refresh(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, tracing.SpanRefresh)
	defer span.End()

	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	if r.registry != nil {
		if err := r.registry.Reload(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	// The registry may already have changed, so outcomes are dropped even when
	// discovery fails to refresh.
	refreshErr := r.discovery.Refresh(ctx)
	if err := r.cache.Flush(ctx); err != nil {
		err = errors.Join(refreshErr, fmt.Errorf("flush fuzzy cache: %w", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if refreshErr != nil {
		span.RecordError(refreshErr)
		span.SetStatus(codes.Error, refreshErr.Error())
		return fmt.Errorf("refresh discovery: %w", refreshErr)
	}

	span.SetAttributes(attribute.String(tracing.AttrGeneration, r.discovery.Generation()))
	log.Info(log.CatResolve, "Resolver refreshed", "generation", r.discovery.Generation())
	return nil
}

// Suggest runs only the fuzzy stage, bypassing the cache.
func (r *Resolver) Suggest(ctx context.Context, d Descriptor) (fuzzy.Outcome, error) {
	p, err := normalizeProvider(d.Provider)
	if err != nil {
		return fuzzy.Outcome{}, err
	}
	id := descriptorID(d)
	if id == "" {
		return fuzzy.Outcome{}, ErrEmptyDescriptor
	}
	cat, err := r.catalog(p)
	if err != nil {
		return fuzzy.Outcome{}, err
	}
	return r.fuzzy.ResolveFuzzy(ctx, p, fuzzyQuery(id, d), cat)
}

// descriptorID is the name a descriptor is resolved by: its id, or its
// display name when the id is blank.
func descriptorID(d Descriptor) string {
	if id := strings.TrimSpace(d.ID); id != "" {
		return id
	}
	return strings.TrimSpace(d.DisplayName)
}

func fuzzyQuery(id string, d Descriptor) fuzzy.Query {
	q := fuzzy.Query{Name: id, CategoryHint: d.CategoryHint}
	if d.DisplayName != "" && d.DisplayName != id {
		q.Hints = append(q.Hints, d.DisplayName)
	}
	return q
}

// CachedOutcomes returns the number of cached fuzzy outcomes.
func (r *Resolver) CachedOutcomes() int {
	return r.cache.Len()
}

func (r *Resolver) cachedOutcome(ctx context.Context, key cacheKey, in fuzzyInput) (fuzzy.Outcome, error) {
	if r.sliding {
		return r.outcomes.GetWithRefresh(ctx, key, in, r.ttl)
	}
	return r.outcomes.Get(ctx, key, in, r.ttl)
}

func (r *Resolver) computeFuzzy(ctx context.Context, in fuzzyInput) (fuzzy.Outcome, error) {
	ctx, span := r.tracer.Start(ctx, tracing.SpanFuzzy,
		trace.WithAttributes(attribute.String(tracing.AttrProvider, in.provider.String())))
	defer span.End()
	return r.fuzzy.ResolveFuzzy(ctx, in.provider, in.query, in.catalog)
}

// catalog returns the provider's registry. A provider that was never loaded,
// or has no catalog file, resolves without registry hints; a catalog that
// exists but failed to load is fatal.
func (r *Resolver) catalog(p provider.Provider) (*catalog.Catalog, error) {
	if r.registry == nil {
		return nil, nil
	}
	cat, err := r.registry.Get(p)
	if errors.Is(err, catalog.ErrNotLoaded) || errors.Is(err, fs.ErrNotExist) {
		log.Debug(log.CatResolve, "No catalog loaded, resolving without registry", "provider", p)
		return nil, nil
	}
	return cat, err
}

// key identifies a fuzzy computation. The generation id keeps outcomes of a
// replaced index from being served after a refresh.
func (r *Resolver) key(p provider.Provider, q fuzzy.Query) cacheKey {
	hints := make([]string, len(q.Hints))
	for i, h := range q.Hints {
		hints[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return cacheKey(strings.Join([]string{
		r.discovery.Generation(),
		p.String(),
		naming.Normalize(q.CategoryHint),
		q.Name,
		strings.Join(hints, "\x1f"),
	}, "\x1e"))
}

func exact(d Descriptor, c discovery.Class, via MatchKind) Result {
	return Result{
		Descriptor: d,
		ModulePath: c.Module,
		ClassName:  c.Name,
		Category:   c.Category,
		MatchedVia: via,
		Confidence: 1.0,
	}
}

func normalizeProvider(p provider.Provider) (provider.Provider, error) {
	if p.Valid() {
		return p, nil
	}
	return provider.Parse(string(p))
}
