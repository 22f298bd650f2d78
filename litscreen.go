// Package litscreen provides a top-level convenience entry point for creating
// screeners with minimal boilerplate.
//
// Usage:
//
//	import "github.com/zhinengmahua/litscreen"
//
//	s, err := litscreen.New(litscreen.WithOpenAI("gpt-4o"), litscreen.WithSystemPrompt(criteria))
//	s, err := litscreen.New(litscreen.WithProvider(myProvider), litscreen.WithModel("custom"))
//
// This is a thin wrapper around [quick.New]; both produce identical results.
// Use this package when you prefer the shorter import path.
package litscreen

import (
	"github.com/zhinengmahua/litscreen/quick"
	"github.com/zhinengmahua/litscreen/screen"
)

// Option configures the screener created by [New].
type Option = quick.Option

// New creates a [screen.Screener] with minimal configuration.
// At minimum, a model must be specified via [WithOpenAI] or [WithModel].
func New(opts ...Option) (*screen.Screener, error) {
	return quick.New(opts...)
}

// Re-export shortcuts so callers never need to import quick/.

// WithProvider sets a pre-built LLM provider.
var WithProvider = quick.WithProvider

// WithOpenAI creates an OpenAI provider. API key from OPENAI_API_KEY env.
var WithOpenAI = quick.WithOpenAI

// WithModel overrides the model name.
var WithModel = quick.WithModel

// WithSystemPrompt sets the screening criteria prompt.
var WithSystemPrompt = quick.WithSystemPrompt

// WithWorkers sets the concurrent worker count.
var WithWorkers = quick.WithWorkers

// WithTPMLimit caps tokens per minute across all workers.
var WithTPMLimit = quick.WithTPMLimit

// WithLogger sets a custom zap logger.
var WithLogger = quick.WithLogger

// WithAPIKey overrides the API key for provider shortcuts.
var WithAPIKey = quick.WithAPIKey

// WithBaseURL points the provider at an OpenAI-compatible endpoint.
var WithBaseURL = quick.WithBaseURL
