// Package completion talks to the OpenAI-compatible model provider for text
// completions and image generation.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/lumina/internal/utils"
)

// Persona is the fixed system message placed ahead of every text request.
const Persona = "You are Lumina, an advanced AI assistant. You are helpful, creative, and provide detailed responses. " +
	"Always be friendly and professional. If asked to generate a title for a conversation, " +
	"provide a short, concise title of 5 words or less, and nothing else."

// Message is one prior turn sent as history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatAPIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatAPIResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *providerAPIError `json:"error,omitempty"`
}

type imageAPIRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
}

type imageAPIResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *providerAPIError `json:"error,omitempty"`
}

// Gateway is stateless apart from its configuration; it never retries.
type Gateway struct {
	baseURL      string
	apiKey       string
	chatModel    string
	imageModel   string
	temperature  float64
	maxTokens    int
	imageSize    string
	imageQuality string
	client       httpDoer
	logger       *zap.SugaredLogger
}

// NewGateway constructs a Gateway initialized from cfg.
func NewGateway(cfg utils.OpenAIConfig, logger *zap.SugaredLogger) *Gateway {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}

	g := &Gateway{
		baseURL:      base,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		chatModel:    valueOr(cfg.ChatModel, "gpt-3.5-turbo"),
		imageModel:   valueOr(cfg.ImageModel, "dall-e-3"),
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		imageSize:    valueOr(cfg.ImageSize, "1024x1024"),
		imageQuality: valueOr(cfg.ImageQuality, "standard"),
		client:       newHTTPClient(cfg.HTTPTimeout),
		logger:       utils.SugarOrNop(logger),
	}
	if g.maxTokens <= 0 {
		g.maxTokens = 1000
	}
	return g
}

// GenerateText sends the persona, history and prompt and returns the assistant text.
func (g *Gateway) GenerateText(ctx context.Context, prompt string, history []Message) (string, error) {
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: "system", Content: Persona})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: prompt})

	payload := chatAPIRequest{
		Model:       g.chatModel,
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}

	status, body, err := g.post(ctx, "/chat/completions", payload)
	if err != nil {
		return "", g.fail(OpText, status, err)
	}

	var apiResp chatAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", g.fail(OpText, status, fmt.Errorf("decode chat response: %w", err))
	}
	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return "", g.fail(OpText, status, fmt.Errorf("openai chat error: %s", apiResp.Error.Message))
	}
	if len(apiResp.Choices) == 0 {
		return "", g.fail(OpText, status, errors.New("chat response contained no choices"))
	}

	return apiResp.Choices[0].Message.Content, nil
}

// GenerateImage requests exactly one image and returns the hosted asset URI.
func (g *Gateway) GenerateImage(ctx context.Context, prompt string) (string, error) {
	payload := imageAPIRequest{
		Model:   g.imageModel,
		Prompt:  prompt,
		N:       1,
		Size:    g.imageSize,
		Quality: g.imageQuality,
	}

	status, body, err := g.post(ctx, "/images/generations", payload)
	if err != nil {
		return "", g.fail(OpImage, status, err)
	}

	var apiResp imageAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", g.fail(OpImage, status, fmt.Errorf("decode image response: %w", err))
	}
	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return "", g.fail(OpImage, status, fmt.Errorf("openai image error: %s", apiResp.Error.Message))
	}
	if len(apiResp.Data) == 0 || strings.TrimSpace(apiResp.Data[0].URL) == "" {
		return "", g.fail(OpImage, status, errors.New("image response contained no url"))
	}

	return apiResp.Data[0].URL, nil
}

func (g *Gateway) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	response, err := g.client.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("call %s: %w", path, err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return response.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return response.StatusCode, respBody, errors.New(describeStatus(response.StatusCode, respBody))
	}

	return response.StatusCode, respBody, nil
}

func (g *Gateway) fail(op Operation, status int, err error) error {
	g.logger.Warnw("generation failed", "op", op, "status", status, "error", err)
	return newFailure(op, status, err)
}

func valueOr(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
