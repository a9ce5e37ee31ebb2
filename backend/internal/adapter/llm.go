package adapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "edukg/backend/pkg/errors"
	"edukg/backend/pkg/logger"
)

// Completer sends one system + user prompt and returns the text answer
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMsg string, opts CompleteOptions) (string, error)
}

// Embedder turns texts into vectors, one per input in order
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// CompleteOptions tunes a single completion
type CompleteOptions struct {
	// JSON asks the server for a JSON object response
	JSON        bool
	Temperature float32
	// MaxAttempts overrides the adapter's retry budget when positive
	MaxAttempts int
}

// LLMAdapter handles communication with an OpenAI-compatible endpoint
// (LiteLLM, Ollama, OpenAI).
type LLMAdapter struct {
	client         *openai.Client
	model          string
	embeddingModel string
	maxAttempts    int
	mu             sync.RWMutex // Protects model fields for concurrent access
	logger         *zap.Logger
}

var (
	_ Completer = (*LLMAdapter)(nil)
	_ Embedder  = (*LLMAdapter)(nil)
)

// NewLLMAdapter creates a new LLM adapter
func NewLLMAdapter(baseURL, apiKey, modelID, embeddingModel string) *LLMAdapter {
	// LiteLLM and Ollama accept any key
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"

	return &LLMAdapter{
		client:         openai.NewClientWithConfig(config),
		model:          modelID,
		embeddingModel: embeddingModel,
		maxAttempts:    3,
		logger:         logger.Named("llm"),
	}
}

// SetModel updates the chat model used by this adapter
func (a *LLMAdapter) SetModel(model string) {
	if model != "" {
		a.mu.Lock()
		a.model = model
		a.mu.Unlock()
		a.logger.Debug("LLM adapter model updated", zap.String("model", model))
	}
}

// GetModel returns the current chat model
func (a *LLMAdapter) GetModel() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// EmbeddingModel returns the model used for embeddings
func (a *LLMAdapter) EmbeddingModel() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.embeddingModel
}

// Complete sends a request to the LLM and returns the first choice's content
func (a *LLMAdapter) Complete(ctx context.Context, systemPrompt, userMsg string, opts CompleteOptions) (string, error) {
	currentModel := a.GetModel()

	req := openai.ChatCompletionRequest{
		Model: currentModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
		Temperature: opts.Temperature,
	}
	if opts.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	attempts := a.maxAttempts
	if opts.MaxAttempts > 0 {
		attempts = opts.MaxAttempts
	}

	var resp openai.ChatCompletionResponse
	err := a.retry(ctx, attempts, currentModel, func() error {
		var callErr error
		resp, callErr = a.client.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return "", apperrors.NewLLMFailed(currentModel, attempts, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.ErrLLMNoResponse
	}

	content := resp.Choices[0].Message.Content
	a.logger.Debug("LLM response generated",
		zap.String("model", currentModel),
		zap.Int("content_length", len(content)),
	)
	return content, nil
}

// Embed returns one embedding per text, in input order
func (a *LLMAdapter) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	model := a.EmbeddingModel()
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	}

	var resp openai.EmbeddingResponse
	err := a.retry(ctx, a.maxAttempts, model, func() error {
		var callErr error
		resp, callErr = a.client.CreateEmbeddings(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, apperrors.NewLLMFailed(model, a.maxAttempts, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.ErrLLMNoResponse
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		vec := make([]float64, len(d.Embedding))
		for i, x := range d.Embedding {
			vec[i] = float64(x)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// retry runs call up to attempts times with linear backoff. It stops early
// when ctx is done.
func (a *LLMAdapter) retry(ctx context.Context, attempts int, model string, call func() error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			a.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = call()
		if err == nil {
			return nil
		}

		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", model),
		)
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
