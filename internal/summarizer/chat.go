package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ryosukesatoh/paperwatch/internal/config"
	"github.com/ryosukesatoh/paperwatch/internal/logger"
)

// ChatGateway summarizes through an OpenAI-compatible chat completions
// endpoint (DeepSeek by default).
type ChatGateway struct {
	endpoint  string
	apiKey    string
	model     string
	maxTokens int
	language  string
	maxChars  int
	client    *http.Client
	log       *logger.Logger
}

func NewChatGateway(cfg config.SummarizerConfig) *ChatGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatGateway{
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		language:  cfg.Language,
		maxChars:  cfg.MaxChars,
		client:    &http.Client{Timeout: timeout},
		log:       logger.Named("summarizer"),
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *chatError   `json:"error,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (g *ChatGateway) Summarize(ctx context.Context, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return NoAbstractMarker
	}
	text, err := g.callAPI(ctx, g.buildPrompt(raw))
	if err != nil {
		g.log.Warn().Err(err).Msg("summarization failed, using excerpt")
		return Fallback(raw)
	}
	return text
}

func (g *ChatGateway) buildPrompt(raw string) string {
	return fmt.Sprintf(`Translate the following research abstract into %[1]s and extract at most 3 key insights.
Keep the whole answer within %[2]d characters. Reply in %[1]s only, as plain text without markdown headings.

Abstract:
%[3]s`, g.language, g.maxChars, strings.TrimSpace(raw))
}

func (g *ChatGateway) callAPI(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:     g.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: g.maxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("summarizer: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("summarizer: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("summarizer: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("summarizer: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("summarizer: unexpected status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("summarizer: failed to parse response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("summarizer: API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	if len(apiResp.Choices) == 0 {
		return "", errors.New("summarizer: empty response")
	}

	text := strings.TrimSpace(apiResp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("summarizer: empty content")
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
