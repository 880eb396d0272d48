// Package observability provides logging and metrics support for the
// literature resolver.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//
// Enrich a logger with request data carried on the context:
//
//	ctx = observability.WithRequestID(ctx, reqID)
//	ctx = observability.WithQuery(ctx, "federated learning privacy")
//	log := observability.LoggerFromContext(ctx, logger)
//
// # Metrics
//
//	metrics := observability.NewMetrics("literature_resolver")
//	metrics.RecordProviderRequest("semantic_scholar", "search", 200, 0.42)
//	metrics.RecordCacheLookup("hit_fresh")
//
// A nil *Metrics is accepted everywhere and records nothing.
//
// # Standard Fields
//
//   - request_id: API request identifier
//   - query: normalized search query
//   - provider: external provider (semantic_scholar, crossref, pubmed)
//   - endpoint: provider endpoint (search, batch, works, efetch)
//   - component: emitting component
package observability
