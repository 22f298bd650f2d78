// =============================================================================
// Package quick — One-Line Screener Construction
// =============================================================================
// Provides a convenience entry point for creating screeners with minimal
// boilerplate. Delegates to screen.New and providers/openai internally.
//
// The package lives under quick/ (not root) so the root package can stay a
// thin alias layer over it.
//
// Usage:
//
//	import "github.com/zhinengmahua/litscreen/quick"
//
//	s, err := quick.New(quick.WithOpenAI("gpt-4o"), quick.WithSystemPrompt(criteria))
//	s, err := quick.New(quick.WithProvider(myProvider), quick.WithModel("custom"))
//
// =============================================================================
package quick

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/zhinengmahua/litscreen/llm"
	"github.com/zhinengmahua/litscreen/providers"
	"github.com/zhinengmahua/litscreen/providers/openai"
	"github.com/zhinengmahua/litscreen/screen"
	"github.com/zhinengmahua/litscreen/screen/ratelimit"
)

// Option configures the screener created by New.
type Option func(*options)

type options struct {
	model        string
	systemPrompt string
	provider     llm.Provider
	logger       *zap.Logger
	workers      int
	tpmLimit     int

	// Provider shortcut fields — used when provider is nil.
	apiKey  string
	baseURL string
}

// WithProvider sets a pre-built LLM provider.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithOpenAI creates an OpenAI provider using the given model.
// API key is read from OPENAI_API_KEY environment variable.
func WithOpenAI(model string) Option {
	return func(o *options) {
		o.model = model
		if o.apiKey == "" {
			o.apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// WithModel sets the model name. Overrides the model set by provider shortcuts.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithSystemPrompt sets the screening criteria prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *options) { o.systemPrompt = prompt }
}

// WithWorkers sets the concurrent worker count.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithTPMLimit caps tokens per minute across all workers. 0 disables.
func WithTPMLimit(n int) Option {
	return func(o *options) { o.tpmLimit = n }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAPIKey overrides the API key for provider shortcuts (WithOpenAI).
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL points the provider at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// New creates a Screener with minimal configuration.
func New(opts ...Option) (*screen.Screener, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.model == "" {
		return nil, fmt.Errorf("model is required: use WithOpenAI or WithModel")
	}

	// Resolve provider.
	p := o.provider
	if p == nil {
		if o.apiKey == "" {
			return nil, fmt.Errorf("API key is required: set OPENAI_API_KEY or use WithAPIKey")
		}
		p = openai.New(providers.OpenAIConfig{
			APIKey:  o.apiKey,
			BaseURL: o.baseURL,
		}, o.logger)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	cfg := screen.Config{
		SystemPrompt: o.systemPrompt,
		Models:       screen.ModelMap{"stage3": o.model},
		Workers:      o.workers,
		RateLimit:    ratelimit.Config{TPMLimit: o.tpmLimit},
	}

	return screen.New(p, cfg, screen.WithLogger(o.logger)), nil
}
