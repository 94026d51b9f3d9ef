// Package llm provides the default LLMClient: an Anthropic-backed
// implementation guarded by a circuit breaker. Per spec §6 the vendor
// is a deployment choice; env-driven model configuration is grounded
// on the teacher's pkg/llm/client.go (GEMINI_MODEL/GEMINI_TEMPERATURE
// construction-time config loading), the circuit breaker on
// jordigilh-kubernaut's go.mod dependency on github.com/sony/gobreaker.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"github.com/hivemind/core/pkg/capability"
)

const defaultModel = anthropic.ModelClaude3_5HaikuLatest

// AnthropicClient implements capability.LLMClient against the
// Anthropic Messages API, tripping a circuit breaker after repeated
// failures so a degraded LLM vendor doesn't stall dedup confirmation
// or distillation behind a long synchronous retry chain.
type AnthropicClient struct {
	client  anthropic.Client
	model   anthropic.Model
	breaker *gobreaker.CircuitBreaker
}

var _ capability.LLMClient = (*AnthropicClient)(nil)

// NewAnthropicClient builds a client from the ANTHROPIC_API_KEY
// environment variable and an optional ANTHROPIC_MODEL override.
func NewAnthropicClient() *AnthropicClient {
	model := anthropic.Model(os.Getenv("ANTHROPIC_MODEL"))
	if model == "" {
		model = defaultModel
	}

	slog.Info("LLM client configured", "model", model)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "anthropic-llm",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	})

	return &AnthropicClient{
		client:  anthropic.NewClient(option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY"))),
		model:   model,
		breaker: breaker,
	}
}

// Complete sends prompt as a single user message and returns the first
// text content block. Every call goes through the circuit breaker;
// callers (dedup confirmation, distillation summaries) must treat a
// breaker-open error identically to any other LLM failure and degrade
// per spec.md §4.3/§4.7 (default to "not duplicate" / skip summary).
func (c *AnthropicClient) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (any, error) {
		msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return "", fmt.Errorf("anthropic: complete: %w", err)
		}
		if len(msg.Content) == 0 {
			return "", errors.New("anthropic: empty response content")
		}
		return msg.Content[0].Text, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
