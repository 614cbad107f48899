package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"pdf-rag/internal/config"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/models"
)

// Client sends chat completions with fixed decoding parameters. There is no
// retry and no concurrency cap; callers absorb failures.
type Client struct {
	llm      llms.Model
	decoding config.GenerationConfig
}

func NewClient(llm llms.Model, decoding config.GenerationConfig) *Client {
	return &Client{llm: llm, decoding: decoding}
}

// NewModel builds the chat backend for the configured provider.
func NewModel(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Interface("llmConfig", map[string]string{
		"provider": llmConfig.Provider,
		"base_url": llmConfig.BaseURL,
		"model":    llmConfig.Model,
	}).Msg("Loaded inference config")

	httpClient := embedding.NewHTTPClient(llmConfig)
	switch llmConfig.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
			openai.WithHTTPClient(httpClient),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai: %w", err)
		}
		return llm, nil
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
			ollama.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unsupported inference provider: %s", llmConfig.Provider)
	}
}

// Complete returns the trimmed text of the first choice.
func (c *Client) Complete(ctx context.Context, messages []models.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(roleOf(m.Role), m.Content))
	}

	res, err := c.llm.GenerateContent(ctx, content,
		llms.WithTemperature(c.decoding.Temperature),
		llms.WithTopP(c.decoding.TopP),
		llms.WithMaxTokens(c.decoding.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}
	if res == nil || len(res.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", models.ErrGeneration)
	}

	text := strings.TrimSpace(res.Choices[0].Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", models.ErrGeneration)
	}
	return text, nil
}

func roleOf(role string) schema.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return schema.ChatMessageTypeSystem
	case "assistant":
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}
