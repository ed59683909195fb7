// Package llm talks to the chat-completion backends that turn document text
// into structured rows: any OpenAI-compatible endpoint or Anthropic.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/retry"
)

// Providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// CompletionRequest is one system+user exchange.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completion is the model's answer.
type Completion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// ChatClient is a chat-completion backend.
type ChatClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Model() string
}

// Config selects and configures a backend.
type Config struct {
	Provider  string
	Endpoint  string // base URL for OpenAI-compatible servers
	Model     string
	APIKey    string
	MaxTokens int
}

// NewChatClient builds the configured backend wrapped with retries and a
// circuit breaker.
func NewChatClient(cfg *Config, logger *zap.Logger) (ChatClient, error) {
	var (
		inner ChatClient
		err   error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		inner, err = NewOpenAIClient(cfg, logger)
	case ProviderAnthropic:
		inner, err = NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithResilience(inner, NewCircuitBreaker(DefaultCircuitBreakerConfig()), retry.DefaultConfig(), logger), nil
}

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client    *openai.Client
	endpoint  string
	model     string
	maxTokens int
	logger    *zap.Logger
}

var _ ChatClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates an OpenAI-compatible client.
func NewOpenAIClient(cfg *Config, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(clientConfig),
		endpoint:  clientConfig.BaseURL,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("llm"),
	}, nil
}

func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(req.Prompt)))
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(req.Temperature),
		MaxTokens:   maxTokens,
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		classified := ClassifyError(err)
		classified.Model, classified.Endpoint = c.model, c.endpoint
		return nil, classified
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(ErrorTypeResponse, "no choices in response", false, nil)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &Completion{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// resilientClient adds retries and a circuit breaker to a ChatClient.
type resilientClient struct {
	inner   ChatClient
	breaker *CircuitBreaker
	retry   *retry.Config
	logger  *zap.Logger
}

// WithResilience retries transient failures and stops calling the backend
// while the breaker is open.
func WithResilience(inner ChatClient, breaker *CircuitBreaker, retryCfg *retry.Config, logger *zap.Logger) ChatClient {
	return &resilientClient{inner: inner, breaker: breaker, retry: retryCfg, logger: logger.Named("llm")}
}

func (c *resilientClient) Model() string { return c.inner.Model() }

func (c *resilientClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}
	out, err := retry.DoWithResult(ctx, c.retry, func() (*Completion, error) {
		return c.inner.Complete(ctx, req)
	})
	if err != nil {
		if IsRetryable(err) {
			c.breaker.RecordFailure()
			c.logger.Warn("Extraction backend failing",
				zap.String("circuit", c.breaker.State().String()),
				zap.Error(err))
		}
		return nil, err
	}
	c.breaker.RecordSuccess()
	return out, nil
}
