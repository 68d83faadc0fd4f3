package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	providerOpenAI    = "openai"
	providerAnthropic = "anthropic"

	defaultOpenAIModel      = "gpt-4o"
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
	defaultAnthropicVersion = "2023-06-01"
	defaultChatTimeout      = 60 * time.Second
)

// ChatConfig carries the upstream credentials for the proxy endpoints. A
// provider with an empty key stays registered and rejects requests at call
// time so the route shape does not depend on deployment secrets.
type ChatConfig struct {
	OpenAIKey        string
	OpenAIModel      string
	OpenAIBaseURL    string
	AnthropicKey     string
	AnthropicModel   string
	AnthropicVersion string
	HTTPClient       *http.Client
}

type chatProvider struct {
	displayName string
	key         string
	send        func(ctx context.Context, body string) (string, error)
}

// ModelConfig mirrors what agent clients negotiate against.
type ModelConfig struct {
	DefaultModel string   `json:"defaultModel"`
	Models       []string `json:"models"`
}

var modelCatalog = map[string]ModelConfig{
	providerOpenAI: {
		DefaultModel: defaultOpenAIModel,
		Models:       []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "o3-mini"},
	},
	providerAnthropic: {
		DefaultModel: defaultAnthropicModel,
		Models: []string{
			"claude-sonnet-4-20250514",
			"claude-opus-4-20250514",
			"claude-3-5-haiku-20241022",
		},
	},
}

func buildProviders(cfg ChatConfig) map[string]chatProvider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultChatTimeout}
	}
	openaiModel := cfg.OpenAIModel
	if openaiModel == "" {
		openaiModel = defaultOpenAIModel
	}
	openaiBase := strings.TrimSuffix(cfg.OpenAIBaseURL, "/")
	if openaiBase == "" {
		openaiBase = "https://api.openai.com"
	}
	anthropicModel := cfg.AnthropicModel
	if anthropicModel == "" {
		anthropicModel = defaultAnthropicModel
	}
	anthropicVersion := cfg.AnthropicVersion
	if anthropicVersion == "" {
		anthropicVersion = defaultAnthropicVersion
	}

	return map[string]chatProvider{
		providerOpenAI: {
			displayName: "ChatGPT",
			key:         cfg.OpenAIKey,
			send: func(ctx context.Context, body string) (string, error) {
				return openaiSend(ctx, httpClient, openaiBase, cfg.OpenAIKey, openaiModel, body)
			},
		},
		providerAnthropic: {
			displayName: "Claude",
			key:         cfg.AnthropicKey,
			send: func(ctx context.Context, body string) (string, error) {
				return anthropicSend(ctx, httpClient, cfg.AnthropicKey, anthropicModel, anthropicVersion, body)
			},
		},
	}
}

func (s *Server) handleProviderSend(w http.ResponseWriter, r *http.Request, name string) {
	provider := s.providers[name]
	var req struct {
		From    string `json:"from"`
		Project string `json:"project"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid json body"})
		return
	}
	if req.From == "" || req.Body == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "from, body are required"})
		return
	}
	if provider.key == "" {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": name + " api key not configured"})
		return
	}

	reply, err := provider.send(r.Context(), req.Body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	msg := Message{
		ID:      uuid.NewString(),
		TS:      time.Now().UnixMilli(),
		From:    provider.displayName,
		To:      req.From,
		Project: req.Project,
		Subject: req.Subject,
		Body:    reply,
	}
	s.publish(msg)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": msg.ID, "ts": msg.TS, "body": reply})
}

func openaiSend(ctx context.Context, client *http.Client, baseURL, key, model, body string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": body},
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai returned %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("openai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func anthropicSend(ctx context.Context, client *http.Client, key, model, version, body string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model":      model,
		"max_tokens": 1024,
		"messages": []map[string]string{
			{"role": "user", "content": body},
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("anthropic returned %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("anthropic response: %w", err)
	}
	var out strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("anthropic returned no text content")
	}
	return out.String(), nil
}

func truncateBody(raw []byte) string {
	const max = 512
	text := strings.TrimSpace(string(raw))
	if len(text) > max {
		return text[:max] + "..."
	}
	return text
}
