package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
)

var (
	queryColumns = []string{"id", "text", "normalized_text", "result_count", "created_at"}
	paperColumns = []string{
		"id", "provider_id", "doi", "arxiv_id", "pubmed_id", "title",
		"abstract", "abstract_provenance", "authors", "year", "venue", "citation_count",
		"url", "publication_date", "source", "raw_payload", "created_at", "updated_at",
	}
	testMetrics = observability.NewMetrics("test_cache")
)

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func paperRow(id uuid.UUID, providerID, title string) []any {
	now := time.Now().UTC()
	return []any{
		id, &providerID, (*string)(nil), (*string)(nil), (*string)(nil), title,
		(*string)(nil), "", []string{"A. Author"}, (*int)(nil), (*string)(nil), (*int)(nil),
		"", (*time.Time)(nil), "semantic_scholar", []byte(nil), now, now,
	}
}

func newTestCache(t *testing.T, now time.Time) (*Cache, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	c := New(mock, Config{TTL: 6 * time.Hour, Now: func() time.Time { return now }}, zerolog.Nop(), testMetrics)
	return c, mock
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		createdAt time.Time
		fresh     bool
	}{
		{name: "fresh within ttl", createdAt: now.Add(-time.Hour), fresh: true},
		{name: "stale after ttl", createdAt: now.Add(-7 * time.Hour), fresh: false},
		{name: "stale exactly at ttl", createdAt: now.Add(-6 * time.Hour), fresh: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, mock := newTestCache(t, now)
			queryID := uuid.New()
			p1, p2 := uuid.New(), uuid.New()

			mock.ExpectQuery(`FROM queries`).
				WithArgs("federated learning privacy").
				WillReturnRows(pgxmock.NewRows(queryColumns).
					AddRow(queryID, "Federated  Learning Privacy", "federated learning privacy", 2, tc.createdAt))
			mock.ExpectQuery(`FROM query_result_links`).
				WithArgs(queryID).
				WillReturnRows(pgxmock.NewRows(paperColumns).
					AddRow(paperRow(p1, "s2-1", "First")...).
					AddRow(paperRow(p2, "s2-2", "Second")...))

			entry, err := c.Lookup(ctx, "  Federated   learning PRIVACY ")
			require.NoError(t, err)
			assert.Equal(t, tc.fresh, entry.Fresh)
			assert.Equal(t, queryID, entry.Query.ID)
			require.Len(t, entry.Papers, 2)
			assert.Equal(t, "First", entry.Papers[0].Title)
			assert.Equal(t, "Second", entry.Papers[1].Title)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLookup_Miss(t *testing.T) {
	c, mock := newTestCache(t, time.Now())
	before := testutil.ToFloat64(testMetrics.CacheLookups.WithLabelValues("miss"))

	mock.ExpectQuery(`FROM queries`).
		WithArgs("unknown topic").
		WillReturnError(pgx.ErrNoRows)

	entry, err := c.Lookup(context.Background(), "Unknown Topic")
	assert.Nil(t, entry)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
	assert.Equal(t, before+1, testutil.ToFloat64(testMetrics.CacheLookups.WithLabelValues("miss")))
}

func TestLookup_Errors(t *testing.T) {
	t.Run("empty query", func(t *testing.T) {
		c, _ := newTestCache(t, time.Now())
		_, err := c.Lookup(context.Background(), "   ")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("database failure is not a miss", func(t *testing.T) {
		c, mock := newTestCache(t, time.Now())
		mock.ExpectQuery(`FROM queries`).WithArgs("q").WillReturnError(errors.New("connection refused"))

		_, err := c.Lookup(context.Background(), "q")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrCacheMiss)
	})
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("upserts papers, query and links in one transaction", func(t *testing.T) {
		c, mock := newTestCache(t, now)
		storedQueryID := uuid.New()
		papers := []*domain.Paper{
			{Title: "First", Identifiers: domain.PaperIdentifiers{ProviderID: "s2-1"}, CitationCount: domain.IntPtr(40), Source: domain.SourceSemanticScholar},
			{Title: "No identity", Source: domain.SourceSemanticScholar},
			{Title: "First again", Identifiers: domain.PaperIdentifiers{ProviderID: "s2-1"}, Source: domain.SourceSemanticScholar},
			{Title: "Second", Identifiers: domain.PaperIdentifiers{ProviderID: "s2-2"}, Source: domain.SourceSemanticScholar},
		}
		id1, id2 := uuid.New(), uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO papers`).WithArgs(anyArgs(16)...).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id1, now, now))
		mock.ExpectQuery(`INSERT INTO papers`).WithArgs(anyArgs(16)...).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id2, now, now))
		mock.ExpectQuery(`INSERT INTO queries`).
			WithArgs(pgxmock.AnyArg(), "Federated learning", "federated learning", 2, now).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(storedQueryID, now))
		mock.ExpectExec(`DELETE FROM query_result_links`).
			WithArgs(storedQueryID).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))
		mock.ExpectExec(`INSERT INTO query_result_links`).
			WithArgs(storedQueryID, []uuid.UUID{id1, id2}, []int32{0, 1}, []int32{40, 0}).
			WillReturnResult(pgxmock.NewResult("INSERT", 2))
		mock.ExpectCommit()

		q, err := c.Store(ctx, "Federated learning", papers)
		require.NoError(t, err)
		assert.Equal(t, storedQueryID, q.ID)
		assert.Equal(t, 2, q.ResultCount)
		assert.Equal(t, id1, papers[0].ID)
		assert.Equal(t, uuid.Nil, papers[1].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and reports persistence failure", func(t *testing.T) {
		c, mock := newTestCache(t, now)
		before := testutil.ToFloat64(testMetrics.PersistenceFailures.WithLabelValues("store_query"))
		papers := []*domain.Paper{
			{Title: "First", Identifiers: domain.PaperIdentifiers{ProviderID: "s2-1"}, Source: domain.SourceSemanticScholar},
		}

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO papers`).WithArgs(anyArgs(16)...).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		q, err := c.Store(ctx, "federated learning", papers)
		assert.Nil(t, q)
		assert.ErrorIs(t, err, domain.ErrPersistence)
		var pe *domain.PersistenceError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "store query", pe.Op)
		assert.Equal(t, before+1, testutil.ToFloat64(testMetrics.PersistenceFailures.WithLabelValues("store_query")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty query", func(t *testing.T) {
		c, _ := newTestCache(t, now)
		_, err := c.Store(ctx, " ", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestSavePapers(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	c, mock := newTestCache(t, now)
	papers := []*domain.Paper{
		{Title: "Resolved", Identifiers: domain.PaperIdentifiers{ProviderID: "s2-9"}, Source: domain.SourceSemanticScholar},
		{Title: "Unresolved, no DOI", Source: domain.SourceGenerative},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO papers`).WithArgs(anyArgs(16)...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(uuid.New(), now, now))
	mock.ExpectCommit()

	n, err := c.SavePapers(ctx, papers)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
