package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
)

// Compile-time interface verification.
var _ PaperRepository = (*PgPaperRepository)(nil)

// paperColumns is the select list scanned by paperScanDest.
const paperColumns = `p.id, p.provider_id, p.doi, p.arxiv_id, p.pubmed_id, p.title,
	p.abstract, p.abstract_provenance, p.authors, p.year, p.venue, p.citation_count,
	p.url, p.publication_date, p.source, p.raw_payload, p.created_at, p.updated_at`

// keepStoredAbstract is true when the incoming abstract must not replace the
// stored one: it is null, or it is a placeholder (synthesized text or a
// candidate note) while the stored abstract came from a provider.
const keepStoredAbstract = `(EXCLUDED.abstract IS NULL
			OR (EXCLUDED.abstract_provenance IN ('synthesized', 'candidate')
				AND papers.abstract IS NOT NULL
				AND papers.abstract_provenance NOT IN ('synthesized', 'candidate')))`

// paperMergeSet is shared by both upsert statements. Stored identifiers win
// over incoming ones; abstract and citation count are last-write-wins for
// non-null values, except that a placeholder abstract never replaces a
// provider abstract.
const paperMergeSet = `
		provider_id = COALESCE(papers.provider_id, EXCLUDED.provider_id),
		doi = COALESCE(papers.doi, EXCLUDED.doi),
		arxiv_id = COALESCE(papers.arxiv_id, EXCLUDED.arxiv_id),
		pubmed_id = COALESCE(papers.pubmed_id, EXCLUDED.pubmed_id),
		title = EXCLUDED.title,
		abstract = CASE WHEN ` + keepStoredAbstract + `
			THEN papers.abstract ELSE EXCLUDED.abstract END,
		abstract_provenance = CASE WHEN ` + keepStoredAbstract + `
			THEN papers.abstract_provenance ELSE EXCLUDED.abstract_provenance END,
		authors = CASE WHEN cardinality(EXCLUDED.authors) > 0
			THEN EXCLUDED.authors ELSE papers.authors END,
		year = COALESCE(EXCLUDED.year, papers.year),
		venue = COALESCE(EXCLUDED.venue, papers.venue),
		citation_count = COALESCE(EXCLUDED.citation_count, papers.citation_count),
		url = CASE WHEN EXCLUDED.url <> '' THEN EXCLUDED.url ELSE papers.url END,
		publication_date = COALESCE(EXCLUDED.publication_date, papers.publication_date),
		raw_payload = COALESCE(EXCLUDED.raw_payload, papers.raw_payload),
		updated_at = NOW()
	RETURNING id, created_at, updated_at`

const paperInsert = `
	INSERT INTO papers (
		id, provider_id, doi, arxiv_id, pubmed_id, title,
		abstract, abstract_provenance, authors, year, venue, citation_count,
		url, publication_date, source, raw_payload, created_at, updated_at
	) VALUES (
		$1, $2, %s, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW()
	)`

// providerDOI drops the incoming DOI when another provider record already
// owns it, so the provider-keyed insert cannot trip the DOI index.
const providerDOI = `CASE WHEN EXISTS (
		SELECT 1 FROM papers WHERE LOWER(doi) = LOWER($3::text) AND provider_id IS DISTINCT FROM $2
	) THEN NULL ELSE $3::text END`

// claimByDOI attaches a provider id to a row previously stored by DOI only,
// so the provider-keyed upsert that follows merges into it.
const claimByDOI = `
	UPDATE papers SET provider_id = $1, updated_at = NOW()
	WHERE provider_id IS NULL AND LOWER(doi) = LOWER($2)
		AND NOT EXISTS (SELECT 1 FROM papers WHERE provider_id = $1)`

var (
	upsertByProviderID = fmt.Sprintf(paperInsert, providerDOI) + `
	ON CONFLICT (provider_id) DO UPDATE SET` + paperMergeSet

	upsertByDOI = fmt.Sprintf(paperInsert, "$3") + `
	ON CONFLICT ((LOWER(doi))) WHERE doi IS NOT NULL DO UPDATE SET` + paperMergeSet
)

// PgPaperRepository is a PostgreSQL implementation of PaperRepository.
type PgPaperRepository struct {
	db DBTX
}

// NewPgPaperRepository creates a new PostgreSQL paper repository.
func NewPgPaperRepository(db DBTX) *PgPaperRepository {
	return &PgPaperRepository{db: db}
}

// Upsert inserts or merges p. See PaperRepository.
func (r *PgPaperRepository) Upsert(ctx context.Context, p *domain.Paper) error {
	if p == nil {
		return domain.NewValidationError("paper", "paper cannot be nil")
	}
	if p.Identifiers.ProviderID == "" && p.Identifiers.DOI == "" {
		return domain.NewValidationError("identifiers", "provider id or DOI is required")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	query := upsertByDOI
	if p.Identifiers.ProviderID != "" {
		query = upsertByProviderID
		if p.Identifiers.DOI != "" {
			if _, err := r.db.Exec(ctx, claimByDOI, p.Identifiers.ProviderID, p.Identifiers.DOI); err != nil {
				return fmt.Errorf("failed to claim paper by DOI: %w", err)
			}
		}
	}

	authors := p.Authors
	if authors == nil {
		authors = []string{}
	}

	err := r.db.QueryRow(ctx, query,
		p.ID,
		nullString(p.Identifiers.ProviderID),
		nullString(p.Identifiers.DOI),
		nullString(p.Identifiers.ArXivID),
		nullString(p.Identifiers.PubMedID),
		p.Title,
		p.Abstract,
		string(p.AbstractProvenance),
		authors,
		p.Year,
		p.Venue,
		p.CitationCount,
		p.URL,
		p.PublicationDate,
		string(p.Source),
		nullJSON(p.RawPayload),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("paper %q conflicts with a stored record: %w", p.Title, err)
		}
		return fmt.Errorf("failed to upsert paper: %w", err)
	}

	return nil
}

// GetByDOI retrieves a paper by DOI.
func (r *PgPaperRepository) GetByDOI(ctx context.Context, doi string) (*domain.Paper, error) {
	doi = domain.NormalizeDOI(doi)
	if doi == "" {
		return nil, domain.NewValidationError("doi", "DOI is required")
	}

	query := `SELECT ` + paperColumns + ` FROM papers p WHERE LOWER(p.doi) = LOWER($1)`

	paper, err := scanPaper(r.db.QueryRow(ctx, query, doi))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("paper", doi)
		}
		return nil, fmt.Errorf("failed to get paper by DOI: %w", err)
	}
	return paper, nil
}

// GetByID retrieves a paper by its UUID.
func (r *PgPaperRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Paper, error) {
	query := `SELECT ` + paperColumns + ` FROM papers p WHERE p.id = $1`

	paper, err := scanPaper(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("paper", id.String())
		}
		return nil, fmt.Errorf("failed to get paper by ID: %w", err)
	}
	return paper, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// paperScanDest holds the destination pointers for scanning a Paper row.
type paperScanDest struct {
	paper      domain.Paper
	providerID *string
	doi        *string
	arxivID    *string
	pubmedID   *string
	provenance string
	source     string
	rawPayload []byte
	pubDate    *time.Time
}

func (d *paperScanDest) destinations() []any {
	return []any{
		&d.paper.ID, &d.providerID, &d.doi, &d.arxivID, &d.pubmedID, &d.paper.Title,
		&d.paper.Abstract, &d.provenance, &d.paper.Authors, &d.paper.Year, &d.paper.Venue, &d.paper.CitationCount,
		&d.paper.URL, &d.pubDate, &d.source, &d.rawPayload, &d.paper.CreatedAt, &d.paper.UpdatedAt,
	}
}

func (d *paperScanDest) finalize() *domain.Paper {
	d.paper.Identifiers = domain.PaperIdentifiers{
		ProviderID: derefString(d.providerID),
		DOI:        derefString(d.doi),
		ArXivID:    derefString(d.arxivID),
		PubMedID:   derefString(d.pubmedID),
	}
	d.paper.AbstractProvenance = domain.AbstractProvenance(d.provenance)
	d.paper.Source = domain.Source(d.source)
	d.paper.PublicationDate = d.pubDate
	if len(d.rawPayload) > 0 {
		d.paper.RawPayload = json.RawMessage(d.rawPayload)
	}
	return &d.paper
}

func scanPaper(row pgx.Row) (*domain.Paper, error) {
	var dest paperScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize(), nil
}

func scanPaperFromRows(rows pgx.Rows) (*domain.Paper, error) {
	var dest paperScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize(), nil
}
