package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type openAIClient struct {
	client  *openaigo.Client
	model   string
	metrics *Metrics
	logger  *zap.Logger
}

func (c *openAIClient) Model() string { return c.model }

func (c *openAIClient) GenerateText(ctx context.Context, systemPrompt, userInput string, params GenerationParams) (string, UsageInfo, error) {
	var usage UsageInfo
	if strings.TrimSpace(systemPrompt) == "" {
		c.metrics.request(c.model, "error")
		return "", usage, fmt.Errorf("%w: empty system prompt", ErrGenerationFailed)
	}

	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userInput != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: userInput})
	}

	start := time.Now()
	c.logger.Debug("Sending AI request",
		zap.String("model", c.model),
		zap.Int("promptTokensEstimate", CountTokens(c.model, systemPrompt+userInput)),
	)

	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
		TopP:        float32Val(params.TopP),
	})
	duration := time.Since(start)

	if err != nil {
		c.logger.Warn("AI request failed", zap.Duration("duration", duration), zap.Error(err))
		c.metrics.request(c.model, "error")
		return "", usage, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		c.metrics.request(c.model, "error_empty_response")
		return "", usage, fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	usage = UsageInfo{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	c.metrics.request(c.model, "success")
	c.metrics.observe(c.model, duration, usage)
	c.logger.Debug("AI response received",
		zap.Duration("duration", duration),
		zap.Int("totalTokens", usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, usage, nil
}
