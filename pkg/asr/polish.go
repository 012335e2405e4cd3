package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const polishSystemPrompt = "You clean up raw speech-to-text output. Fix casing, punctuation, and obvious mistranscriptions. Do not paraphrase, summarize, or drop content. Return only the cleaned transcript."

// Polisher rewrites a raw machine transcript into readable text.
type Polisher interface {
	Polish(ctx context.Context, transcript string) (string, error)
}

// OpenAICompatPolisher calls any OpenAI-compatible /v1/chat/completions
// endpoint. Works with vLLM, LiteLLM, self-hosted models, etc.
type OpenAICompatPolisher struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompatPolisher builds a Polisher. baseURL should include the /v1
// prefix; apiKey can be empty for local models.
func NewOpenAICompatPolisher(baseURL, apiKey, model string) *OpenAICompatPolisher {
	return &OpenAICompatPolisher{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Polish implements Polisher using the chat completions API.
func (p *OpenAICompatPolisher) Polish(ctx context.Context, transcript string) (string, error) {
	if p.model == "" {
		return "", fmt.Errorf("polish model required")
	}
	reqBody := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: polishSystemPrompt},
			{Role: "user", Content: transcript},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("polish request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp chatErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return "", fmt.Errorf("polish api error: %s", errResp.Error.Message)
		}
		return "", fmt.Errorf("polish api error: %s", resp.Status)
	}
	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("polish decode: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from polish api")
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from polish api")
	}
	return text, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
