// Package asr holds the transcription engine capability and its backends.
package asr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"otonote/internal/config"
	"otonote/internal/metrics"
)

// Engine transcribes one audio clip. lang is "" for auto-detection.
type Engine interface {
	Transcribe(ctx context.Context, clip, lang string) (string, error)
}

// Factory initializes an engine for a model name. Initialization may be
// expensive, so callers go through a Cache.
type Factory func(ctx context.Context, model string) (Engine, error)

// Cache keeps one initialized engine per model name. Each worker owns its
// own Cache; concurrent Get calls are still safe.
type Cache struct {
	factory Factory

	mu      sync.Mutex
	engines map[string]Engine
}

func NewCache(f Factory) *Cache {
	return &Cache{factory: f, engines: map[string]Engine{}}
}

// Get returns the cached engine for model, initializing it on first use.
// Failed initializations are not cached.
func (c *Cache) Get(ctx context.Context, model string) (Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.engines[model]; ok {
		return e, nil
	}
	metrics.IncCacheMiss(model)
	e, err := c.factory(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("init %q engine: %w", model, err)
	}
	c.engines[model] = e
	return e, nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.engines)
}

// NewFactory picks the backend named by cfg.TranscribeBackend.
// hostedModel picks the API model for a job's model selector. Selectors that
// name a hosted model are passed through; whisper.cpp sizes such as "small"
// fall back to the configured default.
func hostedModel(selector, def string, prefixes ...string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(selector, p) {
			return selector
		}
	}
	return def
}

func NewFactory(cfg config.EngineConfig) (Factory, error) {
	switch cfg.TranscribeBackend {
	case "", config.BackendWhisper:
		return func(_ context.Context, model string) (Engine, error) {
			return NewWhisper(cfg.WhisperBin, cfg.WhisperModelsDir, model)
		}, nil
	case config.BackendOpenAI:
		return func(_ context.Context, model string) (Engine, error) {
			return NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBaseURL, hostedModel(model, cfg.OpenAIModel, "whisper-", "gpt-"))
		}, nil
	case config.BackendGemini:
		return func(ctx context.Context, model string) (Engine, error) {
			return NewGemini(ctx, cfg.GeminiKey, hostedModel(model, cfg.GeminiModel, "gemini-"))
		}, nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.TranscribeBackend)
	}
}
