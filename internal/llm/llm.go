// Package llm implements the LLM Gateway: prompt template rendering,
// token-aware candidate selection, provider back-pressure, and the
// candidate iteration loop that turns a prompt type and mapping values
// into a parsed, schema-conforming response.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"text/template"
	"time"

	"github.com/jervis-ai/jervis/internal/concurrency"
	"github.com/jervis-ai/jervis/internal/config"
	"github.com/jervis-ai/jervis/internal/jerrors"
	"github.com/jervis-ai/jervis/internal/llm/gateway"
	"github.com/jervis-ai/jervis/internal/model"
	"github.com/jervis-ai/jervis/internal/modelselect"
	"github.com/jervis-ai/jervis/internal/ratelimit"
	"github.com/jervis-ai/jervis/internal/telemetry"
	"github.com/jervis-ai/jervis/internal/tokencount"
)

// ParseRetries bounds how many times a single candidate is retried with a
// corrective hint after a JSON parse failure before the gateway advances
// to the next candidate.
const ParseRetries = 1

// DefaultBackgroundSoftTimeout bounds how long a background-mode call may
// hold a provider permit, so background traffic cannot starve interactive
// callers of a saturated provider.
const DefaultBackgroundSoftTimeout = 60 * time.Second

// PromptTemplate carries the system/user text templates and default model
// parameters registered for one prompt type.
type PromptTemplate struct {
	ModelType        string
	System           string
	User             string
	Temperature      float32
	TopP             float32
	MaxOutputTokens  int
	ProviderEndpoint string
}

// ParsedResponse is the result of a successful CallLLM invocation.
type ParsedResponse[T any] struct {
	Result       T
	ModelUsed    string
	FinishReason string
	Usage        model.TokenUsage
}

// CallOptions carries the per-call parameters from the CallLLM contract.
type CallOptions struct {
	PromptType     string
	MappingValues  map[string]string
	Quick          bool
	BackgroundMode bool
	CorrelationID  string
}

// providerClient groups a provider's model.Client with the HTTP endpoint
// its calls should be rate-limited against.
type providerClient struct {
	client   model.Client
	endpoint string
}

// Gateway assembles prompts, selects candidates, enforces the provider
// concurrency and domain rate limiting contracts, and invokes
// the selected provider, retrying on parse failure and advancing on
// transport failure, per the candidate iteration loop.
type Gateway struct {
	templates   map[string]PromptTemplate
	catalog     []config.ModelProfile
	providers   map[string]providerClient
	tokens      *tokencount.Counter
	concurrency *concurrency.Manager
	ratelimit   *ratelimit.Limiter
	logger      telemetry.Logger
	metrics     telemetry.Metrics
	backoff     jerrors.Backoff

	backgroundSoftTimeout time.Duration
}

// Option configures a Gateway during construction.
type Option func(*Gateway)

// WithTemplate registers the PromptTemplate for promptType.
func WithTemplate(promptType string, tmpl PromptTemplate) Option {
	return func(g *Gateway) { g.templates[promptType] = tmpl }
}

// WithProvider registers the model.Client to use for provider, along with
// the endpoint its calls should be rate limited against.
func WithProvider(provider string, client model.Client, endpoint string) Option {
	return func(g *Gateway) { g.providers[provider] = providerClient{client: client, endpoint: endpoint} }
}

// WithLogger overrides the Gateway's logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithMetrics overrides the Gateway's metrics sink.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(g *Gateway) { g.metrics = metrics }
}

// WithBackoff overrides the retry schedule used for ProviderTransient
// advances between candidates.
func WithBackoff(b jerrors.Backoff) Option {
	return func(g *Gateway) { g.backoff = b }
}

// WithBackgroundSoftTimeout overrides DefaultBackgroundSoftTimeout.
func WithBackgroundSoftTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.backgroundSoftTimeout = d
		}
	}
}

// New constructs a Gateway. catalog is the full configured model list the
// candidate selector chooses from; tokens/concurrencyMgr/limiter implement token
// counting, provider concurrency, and domain rate limiting respectively.
func New(catalog []config.ModelProfile, tokens *tokencount.Counter, concurrencyMgr *concurrency.Manager, limiter *ratelimit.Limiter, opts ...Option) *Gateway {
	g := &Gateway{
		templates:   make(map[string]PromptTemplate),
		catalog:     catalog,
		providers:   make(map[string]providerClient),
		tokens:      tokens,
		concurrency: concurrencyMgr,
		ratelimit:   limiter,
		logger:      telemetry.NewNoopLogger(),
		metrics:     telemetry.NewNoopMetrics(),
		backoff:     jerrors.DefaultBackoff(),

		backgroundSoftTimeout: DefaultBackgroundSoftTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// CallLLM implements the callLlm(promptType, responseSchema, mappingValues,
// quick, backgroundMode, correlationId) contract: render the template,
// estimate tokens, select candidates, and iterate them until one produces a
// schema-conforming T or every candidate is exhausted.
func CallLLM[T any](ctx context.Context, g *Gateway, opts CallOptions) (*ParsedResponse[T], error) {
	tmpl, ok := g.templates[opts.PromptType]
	if !ok {
		return nil, jerrors.Newf(jerrors.ValidationFailure, "llm: unknown prompt type %q", opts.PromptType)
	}

	system, err := render(tmpl.System, opts.MappingValues)
	if err != nil {
		return nil, jerrors.Wrap(jerrors.ValidationFailure, "llm: rendering system prompt", err)
	}
	user, err := render(tmpl.User, opts.MappingValues)
	if err != nil {
		return nil, jerrors.Wrap(jerrors.ValidationFailure, "llm: rendering user prompt", err)
	}

	estimate := g.tokens.EstimateTotalRequest(ctx, system, user)
	candidates := modelselect.Select(g.catalog, modelselect.Request{
		ModelType:       tmpl.ModelType,
		QuickOnly:       opts.Quick,
		EstimatedTokens: estimate,
	})
	if len(candidates) == 0 {
		return nil, jerrors.New(jerrors.LlmUnavailable, "llm: no candidate models configured for prompt type "+opts.PromptType)
	}
	if opts.BackgroundMode {
		candidates = preferLowerPriority(candidates)
	}

	var lastErr error
	for attempt, candidate := range candidates {
		parsed, resp, err := invokeCandidate[T](ctx, g, tmpl, candidate, system, user, opts)
		if err == nil {
			return &ParsedResponse[T]{
				Result:       parsed,
				ModelUsed:    candidate.Name,
				FinishReason: resp.StopReason,
				Usage:        resp.Usage,
			}, nil
		}
		lastErr = err
		g.logger.Warn(ctx, "llm: candidate exhausted, advancing", "candidate", candidate.Name, "attempt", attempt, "error", err)
		if jerrors.Is(err, jerrors.ProviderTransient) && attempt+1 < len(candidates) && !g.backoff.Exhausted(attempt+1) {
			select {
			case <-time.After(g.backoff.Delay(attempt + 1)):
			case <-ctx.Done():
				return nil, jerrors.Wrap(jerrors.Cancelled, "llm: cancelled while backing off", ctx.Err())
			}
		}
	}

	if lastErr == nil {
		lastErr = jerrors.New(jerrors.LlmParseFailure, "llm: no candidate produced a schema-conforming response")
	}
	return nil, jerrors.Wrap(jerrors.LlmUnavailable, "llm: all candidates exhausted for prompt type "+opts.PromptType, lastErr)
}

// invokeCandidate acquires the provider and domain permits for
// candidate, invokes it, and retries up to ParseRetries times against the
// same candidate before returning a LlmParseFailure. A retry fires both on
// syntactically invalid JSON and on JSON that fails to unmarshal into T
// (wrong shape for the expected schema): both count as parse failures,
// not just malformed JSON. Transport/5xx failures surface immediately
// so the caller advances to the next candidate.
func invokeCandidate[T any](ctx context.Context, g *Gateway, tmpl PromptTemplate, candidate config.ModelProfile, system, user string, opts CallOptions) (T, *model.Response, error) {
	var zero T
	pc, ok := g.providers[candidate.Provider]
	if !ok {
		return zero, nil, jerrors.Newf(jerrors.LlmUnavailable, "llm: no client registered for provider %q", candidate.Provider)
	}

	userText := user
	var resp *model.Response
	var callErr error
	var parseErr error

	for attempt := 0; attempt <= ParseRetries; attempt++ {
		req := &model.Request{
			RunID:       opts.CorrelationID,
			Model:       candidate.WireName,
			Temperature: tmpl.Temperature,
			MaxTokens:   tmpl.MaxOutputTokens,
			Messages: []*model.Message{
				{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: system}}},
				{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: userText}}},
			},
		}

		permitCtx := ctx
		if opts.BackgroundMode && g.backgroundSoftTimeout > 0 {
			// A background call must not hold a provider permit past the
			// soft-timeout; expiry is a ProviderTransient (the next
			// candidate, or a later retry, picks the work back up).
			var cancel context.CancelFunc
			permitCtx, cancel = context.WithTimeout(ctx, g.backgroundSoftTimeout)
			defer cancel()
		}
		callErr = g.concurrency.WithPermit(permitCtx, candidate.Provider, func(ctx context.Context) error {
			if g.ratelimit != nil && pc.endpoint != "" {
				if err := g.ratelimit.Acquire(ctx, pc.endpoint); err != nil {
					return err
				}
			}
			r, err := pc.client.Complete(ctx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if callErr != nil {
			return zero, nil, classifyProviderError(callErr)
		}

		content := extractText(resp)
		var parsed T
		if err := json.Unmarshal([]byte(content), &parsed); err == nil {
			return parsed, resp, nil
		} else {
			parseErr = err
		}
		userText = user + "\n\nYour previous response was not valid JSON conforming to the required schema. Return only valid JSON conforming to the schema."
	}
	if parseErr == nil {
		parseErr = jerrors.New(jerrors.LlmParseFailure, "llm: candidate did not return a schema-conforming response")
	}
	return zero, resp, jerrors.Wrap(jerrors.LlmParseFailure, "llm: candidate did not return a schema-conforming response after retries", parseErr)
}

func classifyProviderError(err error) error {
	if jerrors.Is(err, jerrors.ProviderAuth) {
		return err
	}
	return jerrors.Wrap(jerrors.ProviderTransient, "llm: provider call failed", err)
}

func extractText(resp *model.Response) string {
	if resp == nil {
		return ""
	}
	var b bytes.Buffer
	for _, msg := range resp.Content {
		for _, part := range msg.Parts {
			if tp, ok := part.(model.TextPart); ok {
				b.WriteString(tp.Text)
			}
		}
	}
	return b.String()
}

// preferLowerPriority reorders candidates for background-mode calls so
// lower-priority (higher Priority value) models are tried first, sparing
// the high-priority capacity reserved for interactive traffic.
func preferLowerPriority(candidates []config.ModelProfile) []config.ModelProfile {
	out := make([]config.ModelProfile, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func render(tmpl string, values map[string]string) (string, error) {
	t, err := template.New("prompt").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, values); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// NewProviderServer wraps client in the gateway's middleware Server, for
// callers that want tracing/logging middleware layered around a raw
// provider adapter before registering it with WithProvider.
func NewProviderServer(client model.Client, mw ...gateway.UnaryMiddleware) (model.Client, error) {
	srv, err := gateway.NewServer(gateway.WithProvider(client), gateway.WithUnary(mw...))
	if err != nil {
		return nil, err
	}
	return serverAdapter{srv}, nil
}

type serverAdapter struct{ srv *gateway.Server }

func (s serverAdapter) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return s.srv.Complete(ctx, req)
}

func (s serverAdapter) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}
