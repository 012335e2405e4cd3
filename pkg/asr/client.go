// Package asr submits audio to the speech-to-text provider and records the
// machine transcript when the provider reports completion.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"scribeworks/pkg/domain"
)

const defaultAssemblyAIBaseURL = "https://api.assemblyai.com/v2"

// Transcript is a completed provider transcript with per-word confidence.
type Transcript struct {
	ID     string
	Status string
	Text   string
	Words  []domain.WordConfidence
}

// Client is the provider surface the ingest flow needs.
type Client interface {
	StartTranscription(ctx context.Context, audioURL, webhookURL string) (string, error)
	GetTranscript(ctx context.Context, id string) (Transcript, error)
}

// AssemblyAIClient calls the AssemblyAI transcription API.
type AssemblyAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAssemblyAIClient constructs a client with the provided API key.
func NewAssemblyAIClient(apiKey string) (*AssemblyAIClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("assemblyai api key required")
	}
	return &AssemblyAIClient{
		apiKey:     apiKey,
		baseURL:    defaultAssemblyAIBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// StartTranscription submits the audio URL; the provider calls the webhook
// when the transcript is ready.
func (c *AssemblyAIClient) StartTranscription(ctx context.Context, audioURL, webhookURL string) (string, error) {
	reqBody := transcriptRequest{
		AudioURL:   audioURL,
		WebhookURL: webhookURL,
	}
	var resp transcriptResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/transcript", reqBody, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("empty transcript id from assemblyai")
	}
	return resp.ID, nil
}

// GetTranscript fetches a transcript by provider id.
func (c *AssemblyAIClient) GetTranscript(ctx context.Context, id string) (Transcript, error) {
	var resp transcriptResponse
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/transcript/"+id, nil, &resp); err != nil {
		return Transcript{}, err
	}
	t := Transcript{ID: resp.ID, Status: resp.Status, Text: resp.Text}
	for _, w := range resp.Words {
		t.Words = append(t.Words, domain.WordConfidence{Text: w.Text, Confidence: w.Confidence})
	}
	return t, nil
}

func (c *AssemblyAIClient) doJSON(ctx context.Context, method, url string, payload any, out any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp apiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return fmt.Errorf("assemblyai api error: %s", errResp.Error)
		}
		return fmt.Errorf("assemblyai api error: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type transcriptRequest struct {
	AudioURL   string `json:"audio_url"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Words  []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

type apiErrorResponse struct {
	Error string `json:"error"`
}
