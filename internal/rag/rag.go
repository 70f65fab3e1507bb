// Package rag implements the retrieval-augmented generation pipeline: a
// fan-out of hybrid-search queries joined into a single,
// deterministically ordered chunk list, either returned raw or
// synthesized into a single answer via the LLM gateway.
package rag

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jervis-ai/jervis/internal/domain"
	"github.com/jervis-ai/jervis/internal/ids"
	"github.com/jervis-ai/jervis/internal/jerrors"
	"github.com/jervis-ai/jervis/internal/llm"
)

// SynthesisPromptType is the fixed prompt type the gateway is invoked
// with to turn
// aggregated search results into a single natural-language answer.
const SynthesisPromptType = "SYNTHESIS"

// Chunk is one retrieved passage, already scored and filtered
// server-side by the hybrid store.
type Chunk struct {
	NaturalKey string
	Score      float64
	Content    string
	Source     string
}

// SearchParams carries one query's parameters to the hybrid store. The
// store applies MinScore and Limit server-side; Jervis never re-filters
// or re-truncates results it receives.
type SearchParams struct {
	SearchTerms string
	MinScore    float64
	Limit       int
	ClientID    ids.ClientID
	ProjectID   ids.ProjectID
}

// HybridStore is the abstract vector+keyword retrieval backend. A
// production implementation speaks to an external store; tests use an
// in-memory fake.
type HybridStore interface {
	Search(ctx context.Context, params SearchParams) ([]Chunk, error)
}

// synthesisResult is the schema CallLLM parses the synthesizer's JSON
// response into.
type synthesisResult struct {
	Answer string `json:"answer"`
}

// DefaultLimit and DefaultMinScore are the per-query store parameters used
// unless overridden at construction.
const (
	DefaultLimit    = 20
	DefaultMinScore = 0.0
)

// Pipeline executes the RAG retrieval and synthesis operations over a
// HybridStore and the LLM gateway.
type Pipeline struct {
	store    HybridStore
	gateway  *llm.Gateway
	minScore float64
	limit    int
}

// Option configures a Pipeline during construction.
type Option func(*Pipeline)

// WithMinScore sets the server-side score cutoff passed on every query.
func WithMinScore(minScore float64) Option {
	return func(p *Pipeline) { p.minScore = minScore }
}

// WithLimit sets the server-side per-query result cap.
func WithLimit(limit int) Option {
	return func(p *Pipeline) {
		if limit > 0 {
			p.limit = limit
		}
	}
}

// New constructs a Pipeline.
func New(store HybridStore, gateway *llm.Gateway, opts ...Option) *Pipeline {
	p := &Pipeline{store: store, gateway: gateway, minScore: DefaultMinScore, limit: DefaultLimit}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ExecuteRAGPipeline runs each query concurrently against the hybrid
// store, aggregates and deterministically sorts the results, and
// synthesizes a single answer via the LLM gateway's fixed SYNTHESIS
// prompt type.
func (p *Pipeline) ExecuteRAGPipeline(ctx context.Context, queries []string, originalQuery string, taskCtx *domain.TaskContext) (string, error) {
	chunks, err := p.executeQueries(ctx, queries, taskCtx)
	if err != nil {
		return "", err
	}

	mapping := map[string]string{
		"originalQuery": originalQuery,
		"chunks":        formatChunks(chunks),
	}
	resp, err := llm.CallLLM[synthesisResult](ctx, p.gateway, llm.CallOptions{
		PromptType:    SynthesisPromptType,
		MappingValues: mapping,
	})
	if err != nil {
		return "", err
	}
	return resp.Result.Answer, nil
}

// ExecuteRawSearch runs each query concurrently and returns the flattened,
// stably-sorted result list without synthesis.
func (p *Pipeline) ExecuteRawSearch(ctx context.Context, queries []string, taskCtx *domain.TaskContext) ([]Chunk, error) {
	return p.executeQueries(ctx, queries, taskCtx)
}

func (p *Pipeline) executeQueries(ctx context.Context, queries []string, taskCtx *domain.TaskContext) ([]Chunk, error) {
	if len(queries) == 0 {
		return nil, jerrors.New(jerrors.ValidationFailure, "rag: at least one query is required")
	}

	results := make([][]Chunk, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			chunks, err := p.executeSingleQuery(gctx, q, taskCtx)
			if err != nil {
				return err
			}
			results[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, jerrors.Wrap(jerrors.ProviderTransient, "rag: hybrid store query failed", err)
	}

	var all []Chunk
	for _, r := range results {
		all = append(all, r...)
	}
	sortChunks(all)
	return all, nil
}

func (p *Pipeline) executeSingleQuery(ctx context.Context, query string, taskCtx *domain.TaskContext) ([]Chunk, error) {
	params := SearchParams{SearchTerms: query, MinScore: p.minScore, Limit: p.limit}
	if taskCtx != nil {
		params.ClientID = taskCtx.ClientID
		params.ProjectID = taskCtx.ProjectID
	}
	return p.store.Search(ctx, params)
}

// sortChunks orders chunks deterministically: score descending, natural
// key ascending as the tie break, so repeated queries against the same
// underlying data produce reproducible ordering.
func sortChunks(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].NaturalKey < chunks[j].NaturalKey
	})
}

func formatChunks(chunks []Chunk) string {
	var out string
	for _, c := range chunks {
		out += "- [" + c.Source + "] " + c.Content + "\n"
	}
	return out
}
