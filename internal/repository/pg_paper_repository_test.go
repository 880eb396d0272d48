package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
)

var paperColumnNames = []string{
	"id", "provider_id", "doi", "arxiv_id", "pubmed_id", "title",
	"abstract", "abstract_provenance", "authors", "year", "venue", "citation_count",
	"url", "publication_date", "source", "raw_payload", "created_at", "updated_at",
}

// Helper to create a valid paper for testing.
func newTestPaper() *domain.Paper {
	return &domain.Paper{
		Title:              "Attention Is All You Need",
		Abstract:           domain.StringPtr("The dominant sequence transduction models..."),
		AbstractProvenance: domain.ProvenancePrimary,
		Authors:            []string{"Ashish Vaswani", "Noam Shazeer"},
		Year:               domain.IntPtr(2017),
		Venue:              domain.StringPtr("NeurIPS"),
		CitationCount:      domain.IntPtr(90000),
		Identifiers: domain.PaperIdentifiers{
			ProviderID: "204e3073870fae3d05bcbc2f6a8e263d9b72e776",
			DOI:        "10.48550/arxiv.1706.03762",
			ArXivID:    "1706.03762",
		},
		URL:        "https://www.semanticscholar.org/paper/204e3073870fae3d05bcbc2f6a8e263d9b72e776",
		Source:     domain.SourceSemanticScholar,
		RawPayload: json.RawMessage(`{"paperId":"204e3073870fae3d05bcbc2f6a8e263d9b72e776"}`),
	}
}

// paperRow returns a row matching paperColumnNames for p.
func paperRow(p *domain.Paper) []any {
	var raw []byte
	if len(p.RawPayload) > 0 {
		raw = []byte(p.RawPayload)
	}
	return []any{
		p.ID, nullString(p.Identifiers.ProviderID), nullString(p.Identifiers.DOI),
		nullString(p.Identifiers.ArXivID), nullString(p.Identifiers.PubMedID), p.Title,
		p.Abstract, string(p.AbstractProvenance), p.Authors, p.Year, p.Venue, p.CitationCount,
		p.URL, p.PublicationDate, string(p.Source), raw, p.CreatedAt, p.UpdatedAt,
	}
}

func TestNewPgPaperRepository(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgPaperRepository(mock)
	assert.NotNil(t, repo)
	assert.NotNil(t, repo.db)
}

func TestPgPaperRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("claims DOI row then upserts by provider id", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgPaperRepository(mock)
		paper := newTestPaper()
		storedID := uuid.New()

		mock.ExpectExec(`UPDATE papers SET provider_id`).
			WithArgs(paper.Identifiers.ProviderID, paper.Identifiers.DOI).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery(`ON CONFLICT \(provider_id\) DO UPDATE`).
			WithArgs(
				pgxmock.AnyArg(), &paper.Identifiers.ProviderID, &paper.Identifiers.DOI,
				&paper.Identifiers.ArXivID, (*string)(nil), paper.Title,
				paper.Abstract, "primary", paper.Authors, paper.Year, paper.Venue, paper.CitationCount,
				paper.URL, paper.PublicationDate, "semantic_scholar", pgxmock.AnyArg(),
			).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(storedID, now, now))

		err = repo.Upsert(ctx, paper)
		require.NoError(t, err)
		assert.Equal(t, storedID, paper.ID)
		assert.Equal(t, now, paper.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("placeholder abstract does not replace a provider abstract", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgPaperRepository(mock)
		paper := newTestPaper()
		paper.Identifiers.DOI = ""
		paper.AbstractProvenance = domain.ProvenanceSynthesized

		mock.ExpectQuery(`abstract = CASE WHEN \(EXCLUDED\.abstract IS NULL\s+OR \(EXCLUDED\.abstract_provenance IN \('synthesized', 'candidate'\)\s+AND papers\.abstract IS NOT NULL\s+AND papers\.abstract_provenance NOT IN \('synthesized', 'candidate'\)\)\)\s+THEN papers\.abstract`).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), (*string)(nil), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), "synthesized", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(uuid.New(), now, now))

		require.NoError(t, repo.Upsert(ctx, paper))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("provider id without DOI skips the claim", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgPaperRepository(mock)
		paper := newTestPaper()
		paper.Identifiers.DOI = ""

		mock.ExpectQuery(`ON CONFLICT \(provider_id\) DO UPDATE`).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), (*string)(nil), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(uuid.New(), now, now))

		require.NoError(t, repo.Upsert(ctx, paper))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DOI only paper upserts on the DOI index", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgPaperRepository(mock)
		paper := newTestPaper()
		paper.Identifiers.ProviderID = ""
		paper.Source = domain.SourceCrossref
		paper.Authors = nil

		mock.ExpectQuery(`ON CONFLICT \(\(LOWER\(doi\)\)\) WHERE doi IS NOT NULL`).
			WithArgs(
				pgxmock.AnyArg(), (*string)(nil), &paper.Identifiers.DOI, pgxmock.AnyArg(), pgxmock.AnyArg(), paper.Title,
				pgxmock.AnyArg(), pgxmock.AnyArg(), []string{}, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), "crossref", pgxmock.AnyArg(),
			).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(uuid.New(), now, now))

		require.NoError(t, repo.Upsert(ctx, paper))
		assert.NotEqual(t, uuid.Nil, paper.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects nil paper", func(t *testing.T) {
		repo := NewPgPaperRepository(nil)
		err := repo.Upsert(ctx, nil)

		var validationErr *domain.ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "paper", validationErr.Field)
	})

	t.Run("rejects paper without identity", func(t *testing.T) {
		repo := NewPgPaperRepository(nil)
		paper := newTestPaper()
		paper.Identifiers = domain.PaperIdentifiers{ArXivID: "1706.03762"}

		err := repo.Upsert(ctx, paper)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("claim failure aborts", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgPaperRepository(mock)
		paper := newTestPaper()

		mock.ExpectExec(`UPDATE papers SET provider_id`).
			WithArgs(paper.Identifiers.ProviderID, paper.Identifiers.DOI).
			WillReturnError(errors.New("connection reset"))

		err = repo.Upsert(ctx, paper)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to claim paper by DOI")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation is reported as conflict", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgPaperRepository(mock)
		paper := newTestPaper()
		paper.Identifiers.DOI = ""

		mock.ExpectQuery(`INSERT INTO papers`).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

		err = repo.Upsert(ctx, paper)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "conflicts with a stored record")
		assert.True(t, isPgUniqueViolation(err))
	})
}

func TestPgPaperRepository_GetByDOI(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes the DOI and scans the row", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgPaperRepository(mock)
		stored := newTestPaper()
		stored.ID = uuid.New()
		stored.CreatedAt = time.Now().UTC()
		stored.UpdatedAt = stored.CreatedAt

		mock.ExpectQuery(`WHERE LOWER\(p.doi\) = LOWER\(\$1\)`).
			WithArgs("10.48550/arxiv.1706.03762").
			WillReturnRows(pgxmock.NewRows(paperColumnNames).AddRow(paperRow(stored)...))

		got, err := repo.GetByDOI(ctx, "https://doi.org/10.48550/arXiv.1706.03762")
		require.NoError(t, err)
		assert.Equal(t, stored.ID, got.ID)
		assert.Equal(t, stored.Identifiers, got.Identifiers)
		assert.Equal(t, stored.Authors, got.Authors)
		assert.Equal(t, domain.ProvenancePrimary, got.AbstractProvenance)
		assert.Equal(t, domain.SourceSemanticScholar, got.Source)
		assert.JSONEq(t, string(stored.RawPayload), string(got.RawPayload))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgPaperRepository(mock)
		mock.ExpectQuery(`FROM papers p`).
			WithArgs("10.1/missing").
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.GetByDOI(ctx, "10.1/missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("empty DOI", func(t *testing.T) {
		repo := NewPgPaperRepository(nil)
		_, err := repo.GetByDOI(ctx, "  ")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPgPaperRepository_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("scans nullable columns", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgPaperRepository(mock)
		stored := &domain.Paper{
			ID:          uuid.New(),
			Title:       "Bare Record",
			Identifiers: domain.PaperIdentifiers{DOI: "10.1/bare"},
			Authors:     []string{},
			Source:      domain.SourceGenerative,
			CreatedAt:   time.Now().UTC(),
		}

		mock.ExpectQuery(`WHERE p.id = \$1`).
			WithArgs(stored.ID).
			WillReturnRows(pgxmock.NewRows(paperColumnNames).AddRow(paperRow(stored)...))

		got, err := repo.GetByID(ctx, stored.ID)
		require.NoError(t, err)
		assert.Equal(t, "Bare Record", got.Title)
		assert.Nil(t, got.Abstract)
		assert.Nil(t, got.Year)
		assert.Nil(t, got.RawPayload)
		assert.Empty(t, got.Identifiers.ProviderID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgPaperRepository(mock)
		id := uuid.New()
		mock.ExpectQuery(`FROM papers p`).WithArgs(id).WillReturnError(pgx.ErrNoRows)

		_, err = repo.GetByID(ctx, id)
		var nf *domain.NotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, id.String(), nf.ID)
	})
}
