package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/resolver"
)

func newSearchCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search papers through the cache",
		Long: `Search resolves a free-text query. Fresh cached results are returned
directly; otherwise the primary provider is queried, abstracts are hydrated
and the results are cached.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			year, _ := cmd.Flags().GetString("year")
			req := resolver.SearchRequest{Query: strings.Join(args, " "), Limit: limit, Year: year}

			return withEngine(cmd, open, func(ctx context.Context, e engine) error {
				res, err := e.Search(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), searchOutput{
					Query:    res.Query,
					Papers:   toPaperOutputs(res.Papers),
					CacheHit: res.CacheHit,
					Stale:    res.Stale,
					Reason:   res.Reason,
				})
			})
		},
	}
	cmd.Flags().Int("limit", 0, "maximum number of papers (0 uses the configured default)")
	cmd.Flags().String("year", "", "restrict to a year or range, e.g. 2021 or 2019-2023")
	return cmd
}

func newRecentCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent QUERY",
		Short: "List papers published within a recent window",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			limit, _ := cmd.Flags().GetInt("limit")
			req := resolver.RecentRequest{Query: strings.Join(args, " "), Days: days, Limit: limit}

			return withEngine(cmd, open, func(ctx context.Context, e engine) error {
				papers, err := e.Recent(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), listOutput{Papers: toPaperOutputs(papers)})
			})
		},
	}
	cmd.Flags().Int("days", 0, "lookback window in days (0 uses the default)")
	cmd.Flags().Int("limit", 0, "maximum number of papers (0 uses the default)")
	return cmd
}

func newExtractCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract paper candidates from free text",
		Long: `Extract reads text from --file, or from stdin when no file is given, and
asks the generator for the papers it mentions. Each candidate is matched
against the paper index and hydrated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			maxResults, _ := cmd.Flags().GetInt("max")

			text, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			return withEngine(cmd, open, func(ctx context.Context, e engine) error {
				res, err := e.ExtractCandidates(ctx, text, maxResults)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), toExtractOutput(res))
			})
		},
	}
	cmd.Flags().StringP("file", "f", "", "read text from this file instead of stdin")
	cmd.Flags().Int("max", 0, "maximum number of candidates (0 uses the default)")
	return cmd
}

func newDiscoverCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover TOPIC",
		Short: "Propose papers for a research topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxResults, _ := cmd.Flags().GetInt("max")
			topic := strings.TrimSpace(strings.Join(args, " "))
			if topic == "" {
				return errors.New("topic must not be empty")
			}

			return withEngine(cmd, open, func(ctx context.Context, e engine) error {
				res, err := e.Discover(ctx, topic, maxResults)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), toExtractOutput(res))
			})
		},
	}
	cmd.Flags().Int("max", 0, "maximum number of candidates (0 uses the default)")
	return cmd
}

func newProvidersCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show provider quota and circuit state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, open, func(ctx context.Context, e engine) error {
				statuses := e.Providers(ctx)
				out := make([]providerOutput, 0, len(statuses))
				for _, st := range statuses {
					p := providerOutput{
						Name:          st.Name,
						Authenticated: st.Authenticated,
						CircuitOpen:   st.Snapshot.Open,
						Utilization:   st.Snapshot.Utilization,
					}
					if st.Snapshot.Open {
						retryAt := st.Snapshot.RetryAt
						p.RetryAt = &retryAt
					}
					if st.Error != nil {
						p.Error = st.Error.Error()
					}
					out = append(out, p)
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

// readInput returns the file contents, or stdin when path is empty.
func readInput(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("no input text")
	}
	return text, nil
}

type paperOutput struct {
	ID                 string   `json:"id,omitempty"`
	Title              string   `json:"title"`
	Authors            []string `json:"authors"`
	Year               *int     `json:"year,omitempty"`
	Venue              *string  `json:"venue,omitempty"`
	CitationCount      *int     `json:"citation_count,omitempty"`
	DOI                string   `json:"doi,omitempty"`
	URL                string   `json:"url,omitempty"`
	Abstract           *string  `json:"abstract,omitempty"`
	AbstractProvenance string   `json:"abstract_provenance,omitempty"`
	Source             string   `json:"source,omitempty"`
}

type searchOutput struct {
	Query    string        `json:"query"`
	Papers   []paperOutput `json:"papers"`
	CacheHit bool          `json:"cache_hit"`
	Stale    bool          `json:"stale"`
	Reason   string        `json:"reason,omitempty"`
}

type listOutput struct {
	Papers []paperOutput `json:"papers"`
}

type extractOutput struct {
	Papers    []paperOutput `json:"papers"`
	Summary   *string       `json:"summary,omitempty"`
	Tier      string        `json:"tier"`
	Persisted int           `json:"persisted"`
}

type providerOutput struct {
	Name          string     `json:"name"`
	Authenticated bool       `json:"authenticated"`
	CircuitOpen   bool       `json:"circuit_open"`
	RetryAt       *time.Time `json:"retry_at,omitempty"`
	Utilization   float64    `json:"utilization"`
	Error         string     `json:"error,omitempty"`
}

func toPaperOutputs(papers []*domain.Paper) []paperOutput {
	out := make([]paperOutput, 0, len(papers))
	for _, p := range papers {
		if p == nil {
			continue
		}
		authors := p.Authors
		if authors == nil {
			authors = []string{}
		}
		o := paperOutput{
			Title:              p.Title,
			Authors:            authors,
			Year:               p.Year,
			Venue:              p.Venue,
			CitationCount:      p.CitationCount,
			DOI:                p.Identifiers.DOI,
			URL:                p.URL,
			Abstract:           p.Abstract,
			AbstractProvenance: string(p.AbstractProvenance),
			Source:             string(p.Source),
		}
		if p.ID != uuid.Nil {
			o.ID = p.ID.String()
		}
		out = append(out, o)
	}
	return out
}

func toExtractOutput(res *resolver.ExtractResult) extractOutput {
	return extractOutput{
		Papers:    toPaperOutputs(res.Papers),
		Summary:   res.Summary,
		Tier:      string(res.Tier),
		Persisted: res.Persisted,
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
