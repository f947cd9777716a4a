// Package ai wraps the OpenAI text, image and speech endpoints behind the
// narrow calls the generation pipeline needs.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"omoide-backend/internal/config"
)

// placeholderKeys are values shipped in sample configs instead of a real key.
var placeholderKeys = map[string]bool{
	"":                         true,
	"dummy":                    true,
	"dummy-key":                true,
	"your_openai_api_key_here": true,
	"sk-your-api-key":          true,
}

// IsPlaceholderKey reports whether key is absent or a known dummy sentinel.
func IsPlaceholderKey(key string) bool {
	return placeholderKeys[strings.TrimSpace(key)]
}

// RetryConfig controls retries of transient upstream failures.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// SpeechOptions tunes narration. Zero values use the client defaults.
type SpeechOptions struct {
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

// Client calls OpenAI.
type Client struct {
	api         *openai.Client
	httpClient  *http.Client
	apiKey      string
	textModel   string
	imageModel  string
	speechModel string
	voice       string
	Retry       RetryConfig
}

// NewClient creates a client from configuration.
func NewClient(cfg config.OpenAIConfig) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = httpClient

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		httpClient:  httpClient,
		apiKey:      cfg.APIKey,
		textModel:   cfg.TextModel,
		imageModel:  cfg.ImageModel,
		speechModel: cfg.SpeechModel,
		voice:       cfg.Voice,
		Retry:       RetryConfig{MaxAttempts: 2, Backoff: 500 * time.Millisecond},
	}
}

// Configured reports whether a real API key is set.
func (c *Client) Configured() bool {
	return !IsPlaceholderKey(c.apiKey)
}

// Complete sends a system + user prompt and returns the first reply.
func (c *Client) Complete(ctx context.Context, system, prompt string, maxTokens int, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.textModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	var reply string
	err := c.withRetry(ctx, "chat completion", func() error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return NewFatalError(errors.New("chat completion returned no choices"))
		}
		reply = strings.TrimSpace(resp.Choices[0].Message.Content)
		if reply == "" {
			return NewFatalError(errors.New("chat completion returned empty content"))
		}
		return nil
	})
	return reply, err
}

// GenerateImage asks the image model for one picture and returns its
// temporary URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	req := openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.imageModel,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	}

	resp, err := c.api.CreateImage(ctx, req)
	if err != nil {
		return "", classify("image generation", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", NewFatalError(errors.New("image generation returned no image"))
	}
	return resp.Data[0].URL, nil
}

// Speak synthesizes text to mp3.
func (c *Client) Speak(ctx context.Context, text string, opts SpeechOptions) ([]byte, error) {
	voice := c.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1.0
	}

	req := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.speechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speed,
	}

	resp, err := c.api.CreateSpeech(ctx, req)
	if err != nil {
		return nil, classify("speech synthesis", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("failed to read speech audio: %w", err))
	}
	return audio, nil
}

// Download fetches a generated asset from its temporary URL.
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", NewTransientError(fmt.Errorf("failed to download %s: %w", url, err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close download body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read download: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := max(c.Retry.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		err = classify(op, err)
		if !IsTransient(err) || attempt == attempts {
			break
		}

		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("Retrying OpenAI request")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.Retry.Backoff * time.Duration(attempt)):
		}
	}
	return err
}

// classify marks rate limits, 5xx and transport failures as transient.
func classify(op string, err error) error {
	if IsTransient(err) || IsFatal(err) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("%s failed (status %d): %w", op, apiErr.HTTPStatusCode, err)
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return NewTransientError(wrapped)
		}
		return NewFatalError(wrapped)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		wrapped := fmt.Errorf("%s failed (status %d): %w", op, reqErr.HTTPStatusCode, err)
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500 {
			return NewTransientError(wrapped)
		}
		return NewFatalError(wrapped)
	}

	if errors.Is(err, context.Canceled) {
		return NewFatalError(fmt.Errorf("%s canceled: %w", op, err))
	}
	return NewTransientError(fmt.Errorf("%s failed: %w", op, err))
}
