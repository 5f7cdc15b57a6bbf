package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// TTSClient calls the speech synthesis service. The service caches by
// input, so synthesizing the same text twice returns the same URL.
type TTSClient struct {
	url    string
	client *http.Client
}

func NewTTSClient(url string) *TTSClient {
	return &TTSClient{url: url, client: &http.Client{}}
}

// Synthesize converts text into a hosted audio URL.
func (c *TTSClient) Synthesize(ctx context.Context, text, language string) (string, error) {
	if c.url == "" {
		return "", fmt.Errorf("missing TTS configuration: URL is empty")
	}

	payload, err := json.Marshal(map[string]string{
		"text":     text,
		"language": language,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode TTS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create TTS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call TTS service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("TTS service returned status %d", resp.StatusCode)
	}

	var result struct {
		AudioURL string `json:"audio_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode TTS response: %w", err)
	}
	return result.AudioURL, nil
}
