package cmd

import (
	"github.com/joescharf/prreview/internal/config"
	"github.com/joescharf/prreview/internal/llm"
	"github.com/joescharf/prreview/internal/review"
)

// generatorFunc builds the review generator, replaceable in tests.
var generatorFunc = defaultGenerator

func defaultGenerator(cfg *config.Config) review.Generator {
	c := newLLMClient(cfg)
	if c == nil {
		return nil
	}
	return c
}

// newLLMClient creates an LLM client from config/env, or returns nil if no API key is configured.
func newLLMClient(cfg *config.Config) *llm.Client {
	if cfg.Anthropic.APIKey == "" {
		return nil
	}
	return llm.NewClient(cfg.Anthropic.APIKey, cfg.LLMParams())
}
