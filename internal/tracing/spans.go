package tracing

// Span attribute keys shared by the engine's spans.
const (
	AttrProvider    = "provider"
	AttrCategory    = "category"
	AttrComponentID = "component.id"
	AttrMatchedVia  = "resolution.matched_via"
	AttrConfidence  = "resolution.confidence"
	AttrClassName   = "resolution.class"
	AttrGeneration  = "discovery.generation"
	AttrCacheHit    = "cache.hit"
)

// Span names.
const (
	SpanResolve    = "resolver.Resolve"
	SpanResolveAll = "resolver.ResolveAll"
	SpanRefresh    = "resolver.Refresh"
	SpanFuzzy      = "resolver.fuzzy"
	SpanCategories = "discovery.categories"
	SpanIntrospect = "discovery.introspect"
)
