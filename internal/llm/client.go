// Package llm is the inference endpoint client (§6 LLM inference
// endpoint): one operation, Analyze, over a heterogeneous list of prompt
// parts. The endpoint is treated as untrusted — callers must run its
// output through the internal/llmparse layered parser before trusting it
// as structured data.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/nevilshah235/claimledger-sub000/internal/config"
)

// PromptPart is one chunk of a multi-modal prompt: either text or a
// binary attachment with a declared MIME type.
type PromptPart struct {
	Text       string
	MIMEType   string
	Attachment []byte
}

func Text(s string) PromptPart { return PromptPart{Text: s} }

func Attachment(mimeType string, data []byte) PromptPart {
	return PromptPart{MIMEType: mimeType, Attachment: data}
}

// Client is the inference endpoint contract consumed by every stage.
type Client interface {
	Analyze(ctx context.Context, model string, parts []PromptPart) (string, error)
}

// NewClient selects a provider-specific client, mirroring how the rest of
// this codebase's clients are provider-selectable from config.
func NewClient(cfg config.LLMConfig, log *logrus.Logger) (Client, error) {
	switch cfg.Provider {
	case "localai", "openai":
		return newHTTPClient(cfg, log), nil
	case "anthropic":
		return newHTTPClient(cfg, log), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// httpClient is an OpenAI-compatible-chat-style HTTP client wrapped by a
// circuit breaker, matching the rest of this codebase's approach to
// outbound calls against flaky external dependencies.
type httpClient struct {
	cfg    config.LLMConfig
	http   *http.Client
	log    *logrus.Logger
	breaker *gobreaker.CircuitBreaker
}

func newHTTPClient(cfg config.LLMConfig, log *logrus.Logger) *httpClient {
	settings := gobreaker.Settings{
		Name:        "llm-inference-" + cfg.Provider,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &httpClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MIME     string `json:"mime_type,omitempty"`
	DataB64  string `json:"data,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *httpClient) Analyze(ctx context.Context, model string, parts []PromptPart) (string, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.call(ctx, model, parts)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *httpClient) call(ctx context.Context, model string, parts []PromptPart) (string, error) {
	content := make([]chatContent, 0, len(parts))
	for _, p := range parts {
		if p.Attachment != nil {
			content = append(content, chatContent{Type: "attachment", MIME: p.MIMEType, DataB64: base64.StdEncoding.EncodeToString(p.Attachment)})
			continue
		}
		content = append(content, chatContent{Type: "text", Text: p.Text})
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("inference endpoint returned %d: %s", resp.StatusCode, respBody)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("inference request rejected (%d): %s", resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		// The endpoint is untrusted free text; hand the raw body back
		// and let internal/llmparse's layered parser do its best.
		c.log.WithError(err).Warn("inference response was not a chat envelope, returning raw body")
		return string(respBody), nil
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("inference response had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

