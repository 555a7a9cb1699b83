// =============================================================================
// Package quick — One-Line Orchestrator Construction
// =============================================================================
// Provides a convenience entry point for creating a marketing orchestrator
// with minimal boilerplate. Delegates to marketing.NewOrchestrator internally.
//
// Usage:
//
//	import "github.com/BaSui01/marketflow/quick"
//
//	orch, err := quick.New(quick.WithOpenAI("gpt-4o-mini"))
//	orch, err := quick.New(quick.WithMock())
//	orch, err := quick.New(quick.WithProvider(myProvider), quick.WithModel("custom"))
//
// =============================================================================
package quick

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/marketflow/llm"
	"github.com/BaSui01/marketflow/marketing"
)

// Option configures the orchestrator created by New.
type Option func(*options)

type options struct {
	model    string
	channels []string
	provider llm.Provider
	logger   *zap.Logger

	// Provider shortcut fields, used when provider is nil.
	providerName string
	apiKey       string
	baseURL      string
}

// WithProvider sets a pre-built LLM provider.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithOpenAI creates an OpenAI provider using the given model.
// API key is read from OPENAI_API_KEY environment variable.
func WithOpenAI(model string) Option {
	return func(o *options) {
		o.providerName = "openai"
		o.model = model
		if o.apiKey == "" {
			o.apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// WithMock uses the built-in deterministic provider. No API key needed;
// suited to offline runs and tests.
func WithMock() Option {
	return func(o *options) { o.providerName = "mock" }
}

// WithModel sets the model name. Overrides the model set by provider shortcuts.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithChannels sets the distribution channels for the prebuilt flows.
func WithChannels(channels ...string) Option {
	return func(o *options) { o.channels = channels }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAPIKey overrides the API key for provider shortcuts (WithOpenAI).
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL points the OpenAI shortcut at an OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// New creates a marketing orchestrator with minimal configuration. The
// prebuilt flows are registered and ready to run.
func New(opts ...Option) (*marketing.Orchestrator, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	// Resolve provider.
	p := o.provider
	if p == nil {
		switch o.providerName {
		case "", "mock":
			p = llm.NewMockProvider()
		case "openai":
			if o.apiKey == "" {
				return nil, fmt.Errorf("API key is required for openai: set OPENAI_API_KEY or use WithAPIKey")
			}
			clientOpts := []llm.OpenAIOption{llm.WithClientLogger(o.logger)}
			if o.model != "" {
				clientOpts = append(clientOpts, llm.WithModel(o.model))
			}
			if o.baseURL != "" {
				clientOpts = append(clientOpts, llm.WithBaseURL(o.baseURL))
			}
			p = llm.NewOpenAIClient(o.apiKey, clientOpts...)
		default:
			return nil, fmt.Errorf("unknown provider %q: use WithOpenAI, WithMock, or WithProvider", o.providerName)
		}
	}

	orchOpts := []marketing.Option{
		marketing.WithLogger(o.logger),
		marketing.WithProvider(p),
	}
	if o.model != "" {
		orchOpts = append(orchOpts, marketing.WithModel(o.model))
	}
	if len(o.channels) > 0 {
		orchOpts = append(orchOpts, marketing.WithChannels(o.channels))
	}

	return marketing.NewOrchestrator(orchOpts...), nil
}
