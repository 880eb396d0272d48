package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
)

// Compile-time interface verification.
var _ QueryRepository = (*PgQueryRepository)(nil)

// PgQueryRepository is a PostgreSQL implementation of QueryRepository.
type PgQueryRepository struct {
	db DBTX
}

// NewPgQueryRepository creates a new PostgreSQL query repository.
func NewPgQueryRepository(db DBTX) *PgQueryRepository {
	return &PgQueryRepository{db: db}
}

// GetByText retrieves a cached query by its normalized text.
func (r *PgQueryRepository) GetByText(ctx context.Context, normalized string) (*domain.Query, error) {
	if normalized == "" {
		return nil, domain.NewValidationError("normalized_text", "query text is required")
	}

	query := `
		SELECT id, text, normalized_text, result_count, created_at
		FROM queries
		WHERE normalized_text = $1`

	var q domain.Query
	err := r.db.QueryRow(ctx, query, normalized).Scan(
		&q.ID, &q.Text, &q.NormalizedText, &q.ResultCount, &q.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("query", normalized)
		}
		return nil, fmt.Errorf("failed to get query: %w", err)
	}

	return &q, nil
}

// Upsert inserts q or refreshes the row with the same normalized text.
func (r *PgQueryRepository) Upsert(ctx context.Context, q *domain.Query) error {
	if q == nil || q.NormalizedText == "" {
		return domain.NewValidationError("normalized_text", "query text is required")
	}
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}

	query := `
		INSERT INTO queries (id, text, normalized_text, result_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (normalized_text) DO UPDATE SET
			text = EXCLUDED.text,
			result_count = EXCLUDED.result_count,
			created_at = EXCLUDED.created_at
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		q.ID, q.Text, q.NormalizedText, q.ResultCount, q.CreatedAt,
	).Scan(&q.ID, &q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert query: %w", err)
	}

	return nil
}

// ReplaceLinks swaps the result set of queryID for links.
func (r *PgQueryRepository) ReplaceLinks(ctx context.Context, queryID uuid.UUID, links []domain.QueryResultLink) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM query_result_links WHERE query_id = $1`, queryID); err != nil {
		return fmt.Errorf("failed to delete query links: %w", err)
	}
	if len(links) == 0 {
		return nil
	}

	paperIDs := make([]uuid.UUID, len(links))
	positions := make([]int32, len(links))
	scores := make([]int32, len(links))
	for i, l := range links {
		paperIDs[i] = l.PaperID
		positions[i] = int32(l.Position)
		scores[i] = int32(l.RelevanceScore)
	}

	query := `
		INSERT INTO query_result_links (query_id, paper_id, position, relevance_score)
		SELECT $1, unnest($2::uuid[]), unnest($3::int[]), unnest($4::int[])`

	if _, err := r.db.Exec(ctx, query, queryID, paperIDs, positions, scores); err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("duplicate link position for query %s: %w", queryID, err)
		}
		return fmt.Errorf("failed to insert query links: %w", err)
	}

	return nil
}

// ListPapers returns the papers linked to queryID in position order.
func (r *PgQueryRepository) ListPapers(ctx context.Context, queryID uuid.UUID) ([]*domain.Paper, error) {
	query := `
		SELECT ` + paperColumns + `
		FROM query_result_links l
		JOIN papers p ON p.id = l.paper_id
		WHERE l.query_id = $1
		ORDER BY l.position ASC`

	rows, err := r.db.Query(ctx, query, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list query papers: %w", err)
	}
	defer rows.Close()

	var papers []*domain.Paper
	for rows.Next() {
		p, err := scanPaperFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan paper: %w", err)
		}
		papers = append(papers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating query papers: %w", err)
	}

	return papers, nil
}
