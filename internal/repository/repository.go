// Package repository persists canonical papers, cached queries and the
// ordered links between them.
//
// # Transactions
//
// Repositories take a DBTX so the same code runs against the pool or inside
// a transaction. The freshness cache writes papers, the query row and its
// links in one transaction:
//
//	err := database.InTx(ctx, db, logger, func(tx pgx.Tx) error {
//	    papers := repository.NewPgPaperRepository(tx)
//	    queries := repository.NewPgQueryRepository(tx)
//	    ...
//	})
//
// # Errors
//
// Lookups return domain.ErrNotFound (wrapped in *domain.NotFoundError) when
// no row matches. Write failures are wrapped with context and left to the
// caller to classify.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/database"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// PostgreSQL error codes.
const (
	pgUniqueViolation = "23505"
)

// PaperRepository stores canonical paper records.
type PaperRepository interface {
	// Upsert inserts p or merges it into the existing row with the same
	// provider id (or, lacking one, the same DOI). Identifiers already
	// stored are never replaced; abstract and citation count take the new
	// value when it is non-null, except that a synthesized or candidate
	// abstract never replaces one a provider supplied. p.ID, CreatedAt and UpdatedAt are set from
	// the stored row. Returns *domain.ValidationError when p has neither a
	// provider id nor a DOI.
	Upsert(ctx context.Context, p *domain.Paper) error

	// GetByDOI looks a paper up by DOI, case-insensitively.
	GetByDOI(ctx context.Context, doi string) (*domain.Paper, error)

	// GetByID looks a paper up by its internal id.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Paper, error)
}

// QueryRepository stores cached queries and their ordered results.
type QueryRepository interface {
	// GetByText returns the query with the given normalized text.
	GetByText(ctx context.Context, normalized string) (*domain.Query, error)

	// Upsert inserts q or refreshes the row with the same normalized text
	// (text, result_count and created_at). q.ID and q.CreatedAt are set
	// from the stored row.
	Upsert(ctx context.Context, q *domain.Query) error

	// ReplaceLinks deletes the links of queryID and inserts links in their
	// place. It must run inside the caller's transaction for readers to see
	// either the old or the new set.
	ReplaceLinks(ctx context.Context, queryID uuid.UUID, links []domain.QueryResultLink) error

	// ListPapers returns the linked papers of queryID ordered by position.
	ListPapers(ctx context.Context, queryID uuid.UUID) ([]*domain.Paper, error)
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
