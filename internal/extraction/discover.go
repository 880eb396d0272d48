package extraction

import (
	"context"
	"strings"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/llm"
)

// Discover asks the generative provider for papers on topic and resolves
// its answer. Structured output is requested first; if the provider rejects
// that with a non-transient error the prompt is repeated in freeform mode.
func (e *Extractor) Discover(ctx context.Context, topic string, maxResults int) (*Result, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, domain.NewValidationError("topic", "must not be empty")
	}
	if e.generator == nil {
		return nil, domain.NewServiceUnavailableError("discover", "no generative provider configured", nil)
	}

	n := e.cfg.Cap(maxResults)
	system, prompt := llm.BuildDiscoveryPrompt(topic, n)

	res, err := e.generate(ctx, llm.GenerateRequest{System: system, Prompt: prompt, JSONMode: true})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if llm.IsTransient(err) {
			return nil, domain.NewServiceUnavailableError("discover", "generative provider unavailable", err)
		}
		e.logger.Info().Err(err).Msg("structured generation rejected, retrying freeform")

		res, err = e.generate(ctx, llm.GenerateRequest{System: system, Prompt: prompt})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, domain.NewServiceUnavailableError("discover", "generative provider unavailable", err)
		}
	}

	return e.ExtractAndEnrich(ctx, res.Text, n)
}

func (e *Extractor) generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	res, err := e.generator.Generate(ctx, req)
	if err != nil {
		e.metrics.RecordLLMRequest(e.generator.Provider(), e.generator.Model(), "error", 0, 0)
		return nil, err
	}
	e.metrics.RecordLLMRequest(e.generator.Provider(), res.Model, "success", res.InputTokens, res.OutputTokens)
	return res, nil
}
