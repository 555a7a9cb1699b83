// Package marketflow provides a top-level convenience entry point for
// creating a marketing orchestrator with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/marketflow"
//
//	orch, err := marketflow.New(marketflow.WithOpenAI("gpt-4o-mini"))
//	orch, err := marketflow.New(marketflow.WithMock())
//	orch, err := marketflow.New(marketflow.WithProvider(myProvider), marketflow.WithModel("custom"))
//
// This is a thin wrapper around [quick.New]; both produce identical results.
// Use this package when you prefer the shorter import path.
package marketflow

import (
	"github.com/BaSui01/marketflow/marketing"
	"github.com/BaSui01/marketflow/quick"
)

// Option configures the orchestrator created by [New].
type Option = quick.Option

// New creates a [marketing.Orchestrator] with minimal configuration.
// Without a provider option the built-in deterministic mock is used, so
// offline runs work out of the box.
func New(opts ...Option) (*marketing.Orchestrator, error) {
	return quick.New(opts...)
}

// Re-export provider shortcuts so callers never need to import quick/.

// WithProvider sets a pre-built LLM provider.
var WithProvider = quick.WithProvider

// WithOpenAI creates an OpenAI provider. API key from OPENAI_API_KEY env.
var WithOpenAI = quick.WithOpenAI

// WithMock uses the built-in deterministic provider.
var WithMock = quick.WithMock

// WithModel overrides the model name.
var WithModel = quick.WithModel

// WithChannels sets the distribution channels for the prebuilt flows.
var WithChannels = quick.WithChannels

// WithLogger sets a custom zap logger.
var WithLogger = quick.WithLogger

// WithAPIKey overrides the API key for provider shortcuts.
var WithAPIKey = quick.WithAPIKey

// WithBaseURL points the OpenAI shortcut at an OpenAI-compatible gateway.
var WithBaseURL = quick.WithBaseURL
