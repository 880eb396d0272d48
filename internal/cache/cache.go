// Package cache implements the freshness cache: a query's ordered result set
// stored in PostgreSQL and considered fresh for a fixed TTL after its last
// successful refresh.
//
// The cache is read-through with fallback. Callers look a query up, refresh
// it from the providers when it is missing or stale, and fall back to the
// stale entry when the refresh fails. A refresh replaces the stored link set
// in the same transaction that refreshes the query row, so a concurrent
// reader sees either the old or the new result set, never an empty one.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/database"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/repository"
)

// DefaultTTL is how long a stored result set is served without a refresh.
const DefaultTTL = 6 * time.Hour

// Lookup results recorded in cache_lookups_total.
const (
	resultHitFresh = "hit_fresh"
	resultHitStale = "hit_stale"
	resultMiss     = "miss"
)

// TxRunner is the database handle the cache reads from and opens
// transactions on. *database.DB satisfies it.
type TxRunner interface {
	database.DBTX
	database.Beginner
}

// Config configures a Cache.
type Config struct {
	// TTL defaults to DefaultTTL.
	TTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Entry is a cached result set.
type Entry struct {
	Query  *domain.Query
	Papers []*domain.Paper
	// Fresh is false once the entry is older than the TTL. Stale entries
	// are still returned so callers can fall back to them.
	Fresh bool
}

// Cache is the PostgreSQL-backed freshness cache.
type Cache struct {
	db      TxRunner
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a cache on db.
func New(db TxRunner, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		db:      db,
		ttl:     cfg.TTL,
		now:     cfg.Now,
		logger:  logger.With().Str("component", "cache").Logger(),
		metrics: metrics,
	}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Lookup returns the stored result set for text, or domain.ErrCacheMiss
// when the query has never been stored.
func (c *Cache) Lookup(ctx context.Context, text string) (*Entry, error) {
	normalized := domain.NormalizeQuery(text)
	if normalized == "" {
		return nil, domain.NewValidationError("query", "query is required")
	}

	queries := repository.NewPgQueryRepository(c.db)
	q, err := queries.GetByText(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.metrics.RecordCacheLookup(resultMiss)
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	papers, err := queries.ListPapers(ctx, q.ID)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	entry := &Entry{
		Query:  q,
		Papers: papers,
		Fresh:  q.IsFresh(c.now(), c.ttl),
	}
	if entry.Fresh {
		c.metrics.RecordCacheLookup(resultHitFresh)
	} else {
		c.metrics.RecordCacheLookup(resultHitStale)
	}

	c.logger.Debug().
		Str("query", normalized).
		Int("papers", len(papers)).
		Bool("fresh", entry.Fresh).
		Msg("cache hit")

	return entry, nil
}

// Store persists papers as the new result set of text, in order. Papers are
// upserted, the query row is refreshed and its links are replaced in one
// transaction. Papers with neither a provider id nor a DOI cannot be stored
// and are left out of the result set, as are repeats of an earlier paper.
//
// Papers that were stored have their ID and timestamps set. Failures are
// returned as *domain.PersistenceError.
func (c *Cache) Store(ctx context.Context, text string, papers []*domain.Paper) (*domain.Query, error) {
	q := domain.NewQuery(text, c.now())
	if q.NormalizedText == "" {
		return nil, domain.NewValidationError("query", "query is required")
	}

	err := database.InTx(ctx, c.db, c.logger, func(tx pgx.Tx) error {
		stored, err := upsertPapers(ctx, repository.NewPgPaperRepository(tx), papers)
		if err != nil {
			return err
		}

		queries := repository.NewPgQueryRepository(tx)
		q.ResultCount = len(stored)
		if err := queries.Upsert(ctx, q); err != nil {
			return err
		}
		return queries.ReplaceLinks(ctx, q.ID, domain.BuildLinks(q.ID, stored))
	})
	if err != nil {
		c.metrics.RecordPersistenceFailure("store_query")
		return nil, domain.NewPersistenceError("store query", err)
	}

	c.logger.Debug().
		Str("query", q.NormalizedText).
		Str("query_id", q.ID.String()).
		Int("papers", q.ResultCount).
		Msg("stored query result set")

	return q, nil
}

// SavePapers upserts papers that are not tied to a query, such as resolved
// generative candidates, in one transaction. It returns how many were stored.
func (c *Cache) SavePapers(ctx context.Context, papers []*domain.Paper) (int, error) {
	var stored []*domain.Paper
	err := database.InTx(ctx, c.db, c.logger, func(tx pgx.Tx) error {
		var err error
		stored, err = upsertPapers(ctx, repository.NewPgPaperRepository(tx), papers)
		return err
	})
	if err != nil {
		c.metrics.RecordPersistenceFailure("save_papers")
		return 0, domain.NewPersistenceError("save papers", err)
	}
	return len(stored), nil
}

func upsertPapers(ctx context.Context, repo repository.PaperRepository, papers []*domain.Paper) ([]*domain.Paper, error) {
	stored := make([]*domain.Paper, 0, len(papers))
	seen := make(map[string]bool, len(papers))
	for _, p := range papers {
		if p == nil {
			continue
		}
		key := p.DedupKey()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if err := repo.Upsert(ctx, p); err != nil {
			return nil, err
		}
		stored = append(stored, p)
	}
	return stored, nil
}
