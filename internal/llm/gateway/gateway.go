// Package gateway composes a provider model.Client into a middleware
// chain: the first registered middleware is outermost, the provider call
// is innermost.
package gateway

import (
	"context"
	"errors"

	"github.com/jervis-ai/jervis/internal/model"
)

// ErrProviderRequired indicates that a provider model.Client must be
// supplied.
var ErrProviderRequired = errors.New("llm gateway: provider is required")

type (
	// UnaryHandler processes a single unary completion request.
	UnaryHandler func(ctx context.Context, req *model.Request) (*model.Response, error)

	// StreamHandler processes a streaming completion request, invoking send
	// for each chunk.
	StreamHandler func(ctx context.Context, req *model.Request, send func(model.Chunk) error) error

	// UnaryMiddleware wraps a UnaryHandler with additional behavior.
	UnaryMiddleware func(next UnaryHandler) UnaryHandler

	// StreamMiddleware wraps a StreamHandler with additional behavior.
	StreamMiddleware func(next StreamHandler) StreamHandler

	// Server adapts a model.Client into a composable request handler with
	// middleware support for both unary and streaming completions.
	Server struct {
		provider model.Client
		unary    UnaryHandler
		stream   StreamHandler
	}

	// Option configures a Server during construction.
	Option func(*serverConfig)

	serverConfig struct {
		provider model.Client
		unaryMW  []UnaryMiddleware
		streamMW []StreamMiddleware
	}
)

// WithProvider sets the underlying model client. Required.
func WithProvider(p model.Client) Option { return func(c *serverConfig) { c.provider = p } }

// WithUnary appends UnaryMiddleware to the unary completion chain, applied
// in registration order (first registered is outermost).
func WithUnary(mw ...UnaryMiddleware) Option {
	return func(c *serverConfig) { c.unaryMW = append(c.unaryMW, mw...) }
}

// WithStream appends StreamMiddleware to the streaming completion chain.
func WithStream(mw ...StreamMiddleware) Option {
	return func(c *serverConfig) { c.streamMW = append(c.streamMW, mw...) }
}

// NewServer constructs a Server with the provided options. A provider must
// be configured via WithProvider or NewServer returns ErrProviderRequired.
func NewServer(opts ...Option) (*Server, error) {
	var cfg serverConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.provider == nil {
		return nil, ErrProviderRequired
	}

	baseUnary := func(ctx context.Context, req *model.Request) (*model.Response, error) {
		return cfg.provider.Complete(ctx, req)
	}
	baseStream := func(ctx context.Context, req *model.Request, send func(model.Chunk) error) error {
		st, err := cfg.provider.Stream(ctx, req)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		for {
			chunk, err := st.Recv()
			if err != nil {
				return err
			}
			if err := send(chunk); err != nil {
				return err
			}
		}
	}

	unary := baseUnary
	for i := len(cfg.unaryMW) - 1; i >= 0; i-- {
		unary = cfg.unaryMW[i](unary)
	}
	stream := baseStream
	for i := len(cfg.streamMW) - 1; i >= 0; i-- {
		stream = cfg.streamMW[i](stream)
	}

	return &Server{provider: cfg.provider, unary: unary, stream: stream}, nil
}

// Complete runs req through the unary middleware chain down to the
// provider.
func (s *Server) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return s.unary(ctx, req)
}

// Stream runs req through the streaming middleware chain down to the
// provider.
func (s *Server) Stream(ctx context.Context, req *model.Request, send func(model.Chunk) error) error {
	return s.stream(ctx, req, send)
}
