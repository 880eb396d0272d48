// Package llm talks to generative-text providers (OpenAI, Anthropic).
//
// The resolver uses a provider in one way only: it sends a system and user
// prompt and gets text back. Callers that want structured output set
// JSONMode, but must still be prepared for prose; providers are free to
// ignore the request.
//
// Example usage:
//
//	gen, err := llm.NewGenerator(llm.FactoryConfig{Provider: "openai", OpenAI: cfg})
//	system, prompt := llm.BuildDiscoveryPrompt("protein folding", 10)
//	res, err := gen.Generate(ctx, llm.GenerateRequest{System: system, Prompt: prompt, JSONMode: true})
package llm

import (
	"context"
	"fmt"
	"strings"
)

// GenerateRequest is a single prompt sent to a provider.
type GenerateRequest struct {
	// System is the system prompt (optional).
	System string

	// Prompt is the user message.
	Prompt string

	// JSONMode asks the provider for a JSON object instead of prose.
	JSONMode bool

	// MaxTokens bounds the response; zero uses the provider default.
	MaxTokens int
}

// GenerateResult is the provider's answer.
type GenerateResult struct {
	// Text is the raw response text.
	Text string

	// Model is the model that produced the response.
	Model string

	InputTokens  int
	OutputTokens int
}

// Generator produces text from a prompt.
type Generator interface {
	// Generate sends req and returns the response text. Transient provider
	// errors are retried internally; the returned error is a *GeneratorError
	// when the provider answered with a failure status.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// Provider returns the provider name (e.g., "openai", "anthropic").
	Provider() string

	// Model returns the configured model identifier.
	Model() string
}

const discoverySystemPrompt = `You are a research librarian with broad knowledge of the scientific literature.
You recommend real, citable papers. Never invent papers, authors or DOIs. If you are unsure of a DOI, leave it empty.`

// BuildDiscoveryPrompt builds the prompts asking a provider to recommend up
// to n papers on topic. The response shape matches what the candidate
// extractor parses.
func BuildDiscoveryPrompt(topic string, n int) (systemPrompt, userPrompt string) {
	if n <= 0 {
		n = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recommend up to %d influential or recent research papers about the following topic.\n\n", n)
	fmt.Fprintf(&b, "Topic: %s\n\n", strings.TrimSpace(topic))
	b.WriteString("Respond with a single JSON object in this exact format:\n")
	b.WriteString(`{"summary": "<two sentence overview of the topic>", "papers": [{"title": "...", "authors": ["..."], "year": 2023, "journal": "...", "doi": "...", "url": "...", "relevance": "<one sentence on why it matters>"}]}`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Every paper must have a title.\n")
	b.WriteString("- Use an empty string for any field you do not know.\n")
	b.WriteString("- Do not wrap the JSON in markdown.\n")

	return discoverySystemPrompt, b.String()
}
