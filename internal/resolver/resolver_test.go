package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/zjrosen/archnodes/internal/catalog"
	"github.com/zjrosen/archnodes/internal/discovery"
	"github.com/zjrosen/archnodes/internal/discovery/manifest"
	"github.com/zjrosen/archnodes/internal/fuzzy"
	"github.com/zjrosen/archnodes/internal/provider"
)

const awsCatalog = `
provider: aws
modules:
  compute: diagrams.aws.compute
  integration: diagrams.aws.integration
  storage: diagrams.aws.storage
nodes:
  - id: ec2
    category: compute
    class: EC2
    description: Elastic Compute Cloud virtual machines
    aliases: [elastic_compute_cloud]
  - id: lambda
    category: compute
    class: Lambda
    description: Serverless functions triggered by events
  - id: sqs
    category: integration
    class: SQS
    description: Simple Queue Service, a fully managed serverless message queue
    keywords: [queue, messaging]
  - id: object_store
    category: storage
    class: SimpleStorage
    description: Object storage buckets
`

type fixture struct {
	lib      *discovery.StaticIntrospector
	engine   *discovery.Engine
	store    *catalog.Store
	fsys     fstest.MapFS
	resolver *Resolver
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	lib := discovery.NewStatic().
		Add(provider.AWS, "compute", "diagrams.aws.compute", "EC2", "Lambda").
		Add(provider.AWS, "integration", "diagrams.aws.integration", "Appsync", "SQS").
		Add(provider.AWS, "storage", "diagrams.aws.storage", "S3")
	fsys := fstest.MapFS{"aws.yaml": {Data: []byte(awsCatalog)}}
	store := catalog.NewStore(catalog.NewLoader(fsys))
	require.NoError(t, store.Load(provider.AWS))

	engine := discovery.NewEngine(lib, discovery.Options{})
	r, err := New(store, engine, opts)
	require.NoError(t, err)
	return &fixture{lib: lib, engine: engine, store: store, fsys: fsys, resolver: r}
}

func embeddedResolver(t *testing.T) *Resolver {
	t.Helper()
	m, err := manifest.Embedded()
	require.NoError(t, err)
	store := catalog.NewStore(catalog.NewLoader(catalog.Embedded()))
	require.NoError(t, store.Load())
	r, err := New(store, discovery.NewEngine(manifest.NewIntrospector(m), discovery.Options{}), DefaultOptions())
	require.NoError(t, err)
	return r
}

func TestResolve_ExactInHintedCategory(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	for _, id := range []string{"ec2", "ec_2", "EC-2"} {
		t.Run(id, func(t *testing.T) {
			res, err := f.resolver.Resolve(context.Background(),
				Descriptor{ID: id, Provider: provider.AWS, CategoryHint: "compute"})
			require.NoError(t, err)
			require.Equal(t, "diagrams.aws.compute", res.ModulePath)
			require.Equal(t, "EC2", res.ClassName)
			require.Equal(t, "compute", res.Category)
			require.Equal(t, MatchExactDiscovery, res.MatchedVia)
			require.Equal(t, 1.0, res.Confidence)
			require.Empty(t, res.Suggestions)
		})
	}
}

func TestResolve_ExactMatchBeatsRegistry(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	// The registry claims "ec2" is Lambda.
	f.fsys["aws.yaml"] = &fstest.MapFile{Data: []byte(`
provider: aws
modules:
  compute: diagrams.aws.compute
nodes:
  - id: ec2
    category: compute
    class: Lambda
`)}
	require.NoError(t, f.store.Reload())

	res, err := f.resolver.Resolve(context.Background(),
		Descriptor{ID: "ec2", Provider: provider.AWS, CategoryHint: "compute"})
	require.NoError(t, err)
	require.Equal(t, MatchExactDiscovery, res.MatchedVia)
	require.Equal(t, "EC2", res.ClassName)

	res, err = f.resolver.Resolve(context.Background(), Descriptor{ID: "ec2", Provider: provider.AWS})
	require.NoError(t, err)
	require.Equal(t, MatchRegistryVerified, res.MatchedVia, "without a hint the registry goes first")
	require.Equal(t, "Lambda", res.ClassName)
}

func TestResolve_RegistryVerified(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	res, err := f.resolver.Resolve(context.Background(),
		Descriptor{ID: "elastic_compute_cloud", Provider: provider.AWS})
	require.NoError(t, err)
	require.Equal(t, MatchRegistryVerified, res.MatchedVia)
	require.Equal(t, "EC2", res.ClassName)
	require.Equal(t, "diagrams.aws.compute", res.ModulePath)
	require.Equal(t, 1.0, res.Confidence)
}

func TestResolve_HintMissFallsBackToRegistry(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	res, err := f.resolver.Resolve(context.Background(),
		Descriptor{ID: "sqs", Provider: provider.AWS, CategoryHint: "compute"})
	require.NoError(t, err)
	require.Equal(t, MatchRegistryVerified, res.MatchedVia)
	require.Equal(t, "SQS", res.ClassName)
	require.Equal(t, "integration", res.Category)
}

func TestResolve_AnyCategoryWithoutRegistryEntry(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	res, err := f.resolver.Resolve(context.Background(), Descriptor{ID: "appsync", Provider: provider.AWS})
	require.NoError(t, err)
	require.Equal(t, MatchExactDiscovery, res.MatchedVia)
	require.Equal(t, "Appsync", res.ClassName)
	require.Equal(t, "integration", res.Category)
	require.Equal(t, "diagrams.aws.integration", res.ModulePath)
}

func TestResolve_StaleRegistryEntryIsNeverReturned(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	res, err := f.resolver.Resolve(context.Background(), Descriptor{ID: "object_store", Provider: provider.AWS})
	require.NoError(t, err)
	require.NotEqual(t, MatchRegistryVerified, res.MatchedVia)
	require.NotEqual(t, "SimpleStorage", res.ClassName)
	for _, s := range res.Suggestions {
		require.NotEqual(t, "SimpleStorage", s.ClassName)
	}
}

func TestResolve_LibraryDriftAfterRefresh(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	res, err := f.resolver.Resolve(ctx, Descriptor{ID: "lambda", Provider: provider.AWS})
	require.NoError(t, err)
	require.Equal(t, MatchRegistryVerified, res.MatchedVia)

	_, err = f.resolver.Resolve(ctx, Descriptor{ID: "severless_queue", Provider: provider.AWS})
	require.NoError(t, err)
	require.Equal(t, 1, f.resolver.CachedOutcomes())

	f.lib.Remove(provider.AWS, "compute", "Lambda")
	before := f.engine.Generation()
	require.NoError(t, f.resolver.Refresh(ctx))
	require.NotEqual(t, before, f.engine.Generation())
	require.Zero(t, f.resolver.CachedOutcomes())

	res, err = f.resolver.Resolve(ctx, Descriptor{ID: "lambda", Provider: provider.AWS})
	require.NoError(t, err)
	require.NotEqual(t, "Lambda", res.ClassName, "a class the library dropped must not be returned")
	require.NotEqual(t, MatchRegistryVerified, res.MatchedVia)
}

func TestResolve_RefreshKeepsStateWhenCatalogBreaks(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	before := f.engine.Generation()

	f.fsys["aws.yaml"] = &fstest.MapFile{Data: []byte("provider: aws\nmodules: {}\nnodes:\n  - id: x\n    category: ml\n    class: X\n")}
	err := f.resolver.Refresh(context.Background())
	require.ErrorIs(t, err, catalog.ErrConfigMalformed)
	require.Equal(t, before, f.engine.Generation())

	res, err := f.resolver.Resolve(context.Background(), Descriptor{ID: "sqs", Provider: provider.AWS})
	require.NoError(t, err)
	require.Equal(t, MatchRegistryVerified, res.MatchedVia)
}

func TestResolve_FuzzyTypo(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	res, err := f.resolver.Resolve(context.Background(), Descriptor{ID: "severless_queue", Provider: provider.AWS})
	require.NoError(t, err)
	require.Equal(t, MatchFuzzy, res.MatchedVia)
	require.Equal(t, "SQS", res.ClassName)
	require.Equal(t, "diagrams.aws.integration", res.ModulePath)
	require.GreaterOrEqual(t, res.Confidence, fuzzy.DefaultThreshold)
	require.Less(t, res.Confidence, 1.0)
	for _, s := range res.Suggestions {
		require.NotEqual(t, "SQS", s.ClassName, "the accepted class is not repeated as a suggestion")
		require.LessOrEqual(t, s.Score, res.Confidence)
	}
}

func TestResolve_EmbeddedScenarios(t *testing.T) {
	r := embeddedResolver(t)
	ctx := context.Background()

	res, err := r.Resolve(ctx, Descriptor{ID: "ec2", Provider: provider.AWS, CategoryHint: "compute"})
	require.NoError(t, err)
	require.Equal(t, "from diagrams.aws.compute import EC2", res.ImportStatement())

	res, err = r.Resolve(ctx, Descriptor{ID: "appsync", Provider: provider.AWS})
	require.NoError(t, err)
	require.Equal(t, MatchExactDiscovery, res.MatchedVia)
	require.Equal(t, "Appsync", res.ClassName)

	res, err = r.Resolve(ctx, Descriptor{ID: "severless_queue", Provider: provider.AWS})
	require.NoError(t, err)
	require.Equal(t, MatchFuzzy, res.MatchedVia)
	require.Equal(t, "SQS", res.ClassName)

	res, err = r.Resolve(ctx, Descriptor{ID: "quantum_flux_capacitor", Provider: provider.AWS})
	require.NoError(t, err)
	require.Equal(t, MatchNone, res.MatchedVia)
	require.False(t, res.Resolved())
	require.Zero(t, res.Confidence)
	require.Empty(t, res.ImportStatement())
	require.NotEmpty(t, res.Suggestions)
	for _, s := range res.Suggestions {
		require.Less(t, s.Score, fuzzy.DefaultThreshold)
	}
}

func TestResolve_ProviderAndDescriptorErrors(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, Descriptor{ID: "ec2", Provider: "oracle"})
	require.ErrorIs(t, err, provider.ErrUnknownProvider)

	_, err = f.resolver.Resolve(ctx, Descriptor{Provider: provider.AWS})
	require.ErrorIs(t, err, ErrEmptyDescriptor)

	res, err := f.resolver.Resolve(ctx, Descriptor{DisplayName: "EC2", Provider: "Amazon", CategoryHint: "compute"})
	require.NoError(t, err)
	require.Equal(t, "EC2", res.ClassName, "display name stands in for a missing id")
	require.Equal(t, provider.AWS, res.Descriptor.Provider)
}

func TestResolve_LibraryUnavailableIsFatal(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	_, err := f.resolver.Resolve(context.Background(), Descriptor{ID: "gce", Provider: provider.GCP})
	require.ErrorIs(t, err, discovery.ErrLibraryUnavailable)

	_, err = f.resolver.Resolve(context.Background(), Descriptor{ID: "gce", Provider: provider.GCP})
	require.ErrorIs(t, err, discovery.ErrLibraryUnavailable)
	require.Equal(t, 1, f.lib.Calls(provider.GCP, ""), "a broken provider is not re-introspected")
}

func TestResolve_MalformedCatalogIsFatal(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.fsys["gcp.yaml"] = &fstest.MapFile{Data: []byte("provider: gcp\nmodules: {}\nnodes: []\n")}
	require.Error(t, f.store.Load(provider.GCP))

	_, err := f.resolver.Resolve(context.Background(), Descriptor{ID: "gce", Provider: provider.GCP})
	require.ErrorIs(t, err, catalog.ErrConfigMalformed)
}

func TestResolve_CachesFuzzyOutcomes(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	d := Descriptor{ID: "severless_queue", DisplayName: "Job queue", Provider: provider.AWS}

	first, err := f.resolver.Resolve(context.Background(), d)
	require.NoError(t, err)
	second, err := f.resolver.Resolve(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, f.resolver.CachedOutcomes())

	uncached := DefaultOptions()
	uncached.DisableCache = true
	g := newFixture(t, uncached)
	third, err := g.resolver.Resolve(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, first, third)
	require.Zero(t, g.resolver.CachedOutcomes())
}

func TestResolve_SlidingCacheServesSameOutcome(t *testing.T) {
	opts := DefaultOptions()
	opts.SlidingTTL = true
	f := newFixture(t, opts)
	d := Descriptor{ID: "severless_queue", Provider: provider.AWS}

	first, err := f.resolver.Resolve(context.Background(), d)
	require.NoError(t, err)
	second, err := f.resolver.Resolve(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, MatchFuzzy, second.MatchedVia)
	require.Equal(t, 1, f.resolver.CachedOutcomes())
}

func TestResolve_ConcurrentCallersShareDiscovery(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	descriptors := []Descriptor{
		{ID: "severless_queue", Provider: provider.AWS},
		{ID: "ec2", Provider: provider.AWS, CategoryHint: "compute"},
		{ID: "appsync", Provider: provider.AWS},
		{ID: "quantum_flux_capacitor", Provider: provider.AWS},
	}

	reference := newFixture(t, DefaultOptions())
	want := make([]Result, len(descriptors))
	for i, d := range descriptors {
		res, err := reference.resolver.Resolve(context.Background(), d)
		require.NoError(t, err)
		want[i] = res
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := descriptors[i%len(descriptors)]
			res, err := f.resolver.Resolve(context.Background(), d)
			assert.NoError(t, err)
			assert.Equal(t, want[i%len(descriptors)], res)
		}()
	}
	wg.Wait()

	for _, category := range []string{"compute", "integration", "storage"} {
		require.Equal(t, 1, f.lib.Calls(provider.AWS, category), category)
	}
}

func TestResolveAll_KeepsOrderAndJoinsErrors(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	results, err := f.resolver.ResolveAll(context.Background(), []Descriptor{
		{ID: "ec2", Provider: provider.AWS, CategoryHint: "compute"},
		{ID: "mainframe", Provider: "oracle"},
		{ID: "appsync", Provider: provider.AWS},
		{ID: "gce", Provider: provider.GCP},
	})
	require.ErrorIs(t, err, provider.ErrUnknownProvider)
	require.ErrorIs(t, err, discovery.ErrLibraryUnavailable)
	require.ErrorContains(t, err, `resolve "mainframe"`)

	var failed *DescriptorError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, 1, failed.Index, "the first failure in input order")
	require.Equal(t, "mainframe", failed.Descriptor.ID)

	require.Len(t, results, 4)
	require.Equal(t, "EC2", results[0].ClassName)
	require.Equal(t, MatchNone, results[1].MatchedVia)
	require.Equal(t, "mainframe", results[1].Descriptor.ID)
	require.Equal(t, "Appsync", results[2].ClassName)
	require.Equal(t, MatchNone, results[3].MatchedVia)
}

func TestResolveAll_Empty(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	results, err := f.resolver.ResolveAll(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestNew_RejectsInvalidFuzzyOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Fuzzy.Threshold = 0
	_, err := New(nil, discovery.NewEngine(discovery.NewStatic(), discovery.Options{}), opts)
	require.ErrorIs(t, err, fuzzy.ErrInvalidOptions)
}

func TestResolve_WithoutRegistry(t *testing.T) {
	lib := discovery.NewStatic().Add(provider.Azure, "compute", "diagrams.azure.compute", "FunctionApps")
	r, err := New(nil, discovery.NewEngine(lib, discovery.Options{}), DefaultOptions())
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), Descriptor{ID: "function_apps", Provider: provider.Azure})
	require.NoError(t, err)
	require.Equal(t, MatchExactDiscovery, res.MatchedVia)
	require.NoError(t, r.Refresh(context.Background()))
}

type brokenReload struct {
	*discovery.StaticIntrospector
	err error
}

func (b *brokenReload) Reload(context.Context) error { return b.err }

func TestRefresh_FlushesCacheWhenDiscoveryFails(t *testing.T) {
	lib := &brokenReload{StaticIntrospector: discovery.NewStatic().
		Add(provider.AWS, "integration", "diagrams.aws.integration", "SQS")}
	store := catalog.NewStore(catalog.NewLoader(fstest.MapFS{"aws.yaml": {Data: []byte(awsCatalog)}}))
	require.NoError(t, store.Load(provider.AWS))

	spans := tracetest.NewSpanRecorder()
	opts := DefaultOptions()
	opts.Tracer = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)).Tracer("test")
	r, err := New(store, discovery.NewEngine(lib, discovery.Options{}), opts)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Resolve(ctx, Descriptor{ID: "severless_queue", Provider: provider.AWS})
	require.NoError(t, err)
	require.Equal(t, 1, r.CachedOutcomes())

	lib.err = errors.New("manifest vanished")
	err = r.Refresh(ctx)
	require.ErrorIs(t, err, discovery.ErrLibraryUnavailable)
	require.Zero(t, r.CachedOutcomes())

	ended := spans.Ended()
	require.NotEmpty(t, ended)
	last := ended[len(ended)-1]
	require.Equal(t, codes.Error, last.Status().Code)
}

func TestSuggest_RanksWithoutAccepting(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	out, err := f.resolver.Suggest(context.Background(), Descriptor{ID: "sqs", Provider: provider.AWS})
	require.NoError(t, err)
	require.NotEmpty(t, out.Candidates)
	require.Equal(t, "SQS", out.Candidates[0].Class.Name)
	require.Zero(t, f.resolver.CachedOutcomes())
}

func TestSuggest_DerivesNameLikeResolve(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	d := Descriptor{ID: "  ", DisplayName: "severless queue", Provider: provider.AWS}

	res, err := f.resolver.Resolve(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, MatchFuzzy, res.MatchedVia)

	out, err := f.resolver.Suggest(context.Background(), d)
	require.NoError(t, err)
	require.NotNil(t, out.Accepted)
	require.Equal(t, res.ClassName, out.Accepted.Class.Name)
	require.InDelta(t, res.Confidence, out.Accepted.Score, 1e-9)

	_, err = f.resolver.Suggest(context.Background(), Descriptor{ID: " ", Provider: provider.AWS})
	require.ErrorIs(t, err, ErrEmptyDescriptor)
}

// TestResolve_DeterministicProperty checks that identical descriptors resolve
// identically, whether served from the cache or recomputed.
func TestResolve_DeterministicProperty(t *testing.T) {
	cached := newFixture(t, DefaultOptions())
	opts := DefaultOptions()
	opts.DisableCache = true
	uncached := newFixture(t, opts)

	rapid.Check(t, func(rt *rapid.T) {
		d := Descriptor{
			ID:           rapid.StringMatching(`[a-z][a-z0-9_]{0,15}`).Draw(rt, "id"),
			Provider:     provider.AWS,
			CategoryHint: rapid.SampledFrom([]string{"", "compute", "integration", "quantum"}).Draw(rt, "hint"),
		}
		a, err := cached.resolver.Resolve(context.Background(), d)
		require.NoError(rt, err)
		b, err := cached.resolver.Resolve(context.Background(), d)
		require.NoError(rt, err)
		c, err := uncached.resolver.Resolve(context.Background(), d)
		require.NoError(rt, err)

		require.Equal(rt, a, b)
		require.Equal(rt, a, c)
		if a.Resolved() {
			require.Greater(rt, a.Confidence, 0.0)
		} else {
			require.Zero(rt, a.Confidence)
		}
	})
}

func TestResolve_MissingCatalogFileResolvesWithoutRegistry(t *testing.T) {
	store := catalog.NewStore(catalog.NewLoader(fstest.MapFS{}))
	require.Error(t, store.Load(provider.AWS))
	lib := discovery.NewStatic().Add(provider.AWS, "compute", "diagrams.aws.compute", "EC2", "Lambda")
	r, err := New(store, discovery.NewEngine(lib, discovery.Options{}), DefaultOptions())
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), Descriptor{ID: "lambda", Provider: provider.AWS})
	require.NoError(t, err)
	require.Equal(t, MatchExactDiscovery, res.MatchedVia)
	require.Equal(t, "Lambda", res.ClassName)
}
