package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/extraction"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/governor"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/papersources"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/resolver"
)

type fakeEngine struct {
	searchReq  resolver.SearchRequest
	recentReq  resolver.RecentRequest
	text       string
	topic      string
	maxResults int
	err        error
	statuses   []papersources.ProviderStatus
}

func (f *fakeEngine) Search(_ context.Context, req resolver.SearchRequest) (*resolver.SearchResult, error) {
	f.searchReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &resolver.SearchResult{
		Query:    req.Query,
		Papers:   []*domain.Paper{{Title: "Attention Is All You Need", Year: domain.IntPtr(2017)}},
		CacheHit: true,
	}, nil
}

func (f *fakeEngine) Recent(_ context.Context, req resolver.RecentRequest) ([]*domain.Paper, error) {
	f.recentReq = req
	return []*domain.Paper{{Title: "Recent"}}, f.err
}

func (f *fakeEngine) ExtractCandidates(_ context.Context, text string, maxResults int) (*resolver.ExtractResult, error) {
	f.text, f.maxResults = text, maxResults
	return &resolver.ExtractResult{Tier: extraction.TierJSON, Papers: []*domain.Paper{{Title: "Candidate"}}}, f.err
}

func (f *fakeEngine) Discover(_ context.Context, topic string, maxResults int) (*resolver.ExtractResult, error) {
	f.topic, f.maxResults = topic, maxResults
	return &resolver.ExtractResult{Tier: extraction.TierFenced}, f.err
}

func (f *fakeEngine) Providers(context.Context) []papersources.ProviderStatus {
	return f.statuses
}

type harness struct {
	engine *fakeEngine
	noDB   bool
	opened int
	closed int
}

func (h *harness) open(_ context.Context, noDB bool) (engine, func() error, error) {
	h.opened++
	h.noDB = noDB
	return h.engine, func() error { h.closed++; return nil }, nil
}

func execute(t *testing.T, h *harness, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(h.open)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd((&harness{}).open)

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"search", "recent", "extract", "discover", "providers"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("no-db"))
}

func TestSearchCommand(t *testing.T) {
	h := &harness{engine: &fakeEngine{}}

	out, err := execute(t, h, "", "search", "--no-db", "--limit", "5", "--year", "2017", "attention", "transformers")
	require.NoError(t, err)

	assert.Equal(t, resolver.SearchRequest{Query: "attention transformers", Limit: 5, Year: "2017"}, h.engine.searchReq)
	assert.True(t, h.noDB)
	assert.Equal(t, 1, h.closed)

	var got searchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.CacheHit)
	require.Len(t, got.Papers, 1)
	assert.Equal(t, "Attention Is All You Need", got.Papers[0].Title)
	assert.Equal(t, []string{}, got.Papers[0].Authors)
}

func TestSearchCommand_RequiresQuery(t *testing.T) {
	h := &harness{engine: &fakeEngine{}}

	_, err := execute(t, h, "", "search")
	require.Error(t, err)
	assert.Zero(t, h.opened)
}

func TestSearchCommand_EngineError(t *testing.T) {
	h := &harness{engine: &fakeEngine{err: domain.NewServiceUnavailableError("search", "providers unavailable", nil)}}

	_, err := execute(t, h, "", "search", "llm")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrServiceUnavailable))
	assert.Equal(t, 1, h.closed)
}

func TestRecentCommand(t *testing.T) {
	h := &harness{engine: &fakeEngine{}}

	out, err := execute(t, h, "", "recent", "--days", "3", "--limit", "10", "protein folding")
	require.NoError(t, err)

	assert.Equal(t, resolver.RecentRequest{Query: "protein folding", Days: 3, Limit: 10}, h.engine.recentReq)
	assert.False(t, h.noDB)
	assert.Contains(t, out, `"Recent"`)
}

func TestExtractCommand(t *testing.T) {
	t.Run("stdin", func(t *testing.T) {
		h := &harness{engine: &fakeEngine{}}

		out, err := execute(t, h, "  see Vaswani et al. 2017\n", "extract", "--max", "4")
		require.NoError(t, err)
		assert.Equal(t, "see Vaswani et al. 2017", h.engine.text)
		assert.Equal(t, 4, h.engine.maxResults)

		var got extractOutput
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "json", got.Tier)
		assert.Len(t, got.Papers, 1)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("BERT pretraining"), 0o600))
		h := &harness{engine: &fakeEngine{}}

		_, err := execute(t, h, "ignored", "extract", "--file", path)
		require.NoError(t, err)
		assert.Equal(t, "BERT pretraining", h.engine.text)
	})

	t.Run("empty input", func(t *testing.T) {
		h := &harness{engine: &fakeEngine{}}

		_, err := execute(t, h, "   ", "extract")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no input text")
		assert.Zero(t, h.opened)
	})
}

func TestDiscoverCommand(t *testing.T) {
	h := &harness{engine: &fakeEngine{}}

	out, err := execute(t, h, "", "discover", "--max", "6", "graph", "neural", "networks")
	require.NoError(t, err)
	assert.Equal(t, "graph neural networks", h.engine.topic)
	assert.Equal(t, 6, h.engine.maxResults)
	assert.Contains(t, out, `"tier": "fenced"`)
}

func TestProvidersCommand(t *testing.T) {
	retryAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := &harness{engine: &fakeEngine{statuses: []papersources.ProviderStatus{
		{Name: "semantic_scholar", Authenticated: true, Snapshot: governor.Snapshot{Open: true, RetryAt: retryAt, Utilization: 0.5}},
		{Name: "crossref", Error: errors.New("redis down")},
	}}}

	out, err := execute(t, h, "", "providers")
	require.NoError(t, err)

	var got []providerOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.True(t, got[0].CircuitOpen)
	require.NotNil(t, got[0].RetryAt)
	assert.True(t, got[0].RetryAt.Equal(retryAt))
	assert.Nil(t, got[1].RetryAt)
	assert.Equal(t, "redis down", got[1].Error)
}
