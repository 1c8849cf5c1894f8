// Package ai оборачивает chat-completion бэкенды для диалога и выбора говорящего.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrGenerationFailed оборачивает любой сбой бэкенда.
var ErrGenerationFailed = errors.New("ai text generation failed")

const (
	ClientTypeOpenAI = "openai"
	ClientTypeOllama = "ollama"
)

// GenerationParams - необязательные параметры сэмплинга. Nil означает значение бэкенда.
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// UsageInfo - расход токенов одного запроса.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client - chat-completion бэкенд.
type Client interface {
	// GenerateText отправляет системный промт и необязательный ввод пользователя и возвращает текст ответа.
	GenerateText(ctx context.Context, systemPrompt, userInput string, params GenerationParams) (string, UsageInfo, error)
	Model() string
}

// Config выбирает и настраивает бэкенд.
type Config struct {
	ClientType string
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
}

// NewClient создает бэкенд по cfg.ClientType. metrics может быть nil.
func NewClient(cfg Config, metrics *Metrics, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("ai client: model is required")
	}
	switch strings.ToLower(cfg.ClientType) {
	case ClientTypeOpenAI, "":
		logger.Info("Using OpenAI-compatible AI client", zap.String("baseURL", cfg.BaseURL), zap.String("model", cfg.Model), zap.Duration("timeout", cfg.Timeout))
		return &openAIClient{
			client:  NewOpenAI(cfg),
			model:   cfg.Model,
			metrics: metrics,
			logger:  logger.Named("OpenAIClient"),
		}, nil
	case ClientTypeOllama:
		logger.Info("Using Ollama AI client")
		return newOllamaClient(cfg, metrics, logger.Named("OllamaClient"))
	default:
		return nil, fmt.Errorf("unknown AI client type: %q", cfg.ClientType)
	}
}

// NewOpenAI возвращает go-openai клиент для cfg, общий с синтезатором речи.
func NewOpenAI(cfg Config) *openaigo.Client {
	oc := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return openaigo.NewClientWithConfig(oc)
}

// Float64 и Int собирают поля GenerationParams.
func Float64(v float64) *float64 { return &v }

func Int(v int) *int { return &v }

func float32Val(f *float64) float32 {
	if f == nil {
		return 0
	}
	return float32(*f)
}

func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
