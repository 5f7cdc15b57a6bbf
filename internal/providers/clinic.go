package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ClinicWebhook signals an affiliated clinic over its webhook endpoint.
type ClinicWebhook struct {
	url    string
	client *http.Client
}

func NewClinicWebhook(url string) *ClinicWebhook {
	return &ClinicWebhook{url: url, client: &http.Client{}}
}

func (c *ClinicWebhook) NotifyClinic(ctx context.Context, clinicID string, alert ClinicAlert) error {
	if c.url == "" {
		return fmt.Errorf("missing clinic configuration: webhook URL is empty")
	}

	payload, err := json.Marshal(struct {
		ClinicID string `json:"clinic_id"`
		ClinicAlert
	}{ClinicID: clinicID, ClinicAlert: alert})
	if err != nil {
		return fmt.Errorf("failed to encode clinic alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create clinic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to notify clinic %s: %w", clinicID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("clinic webhook returned status %d for clinic %s", resp.StatusCode, clinicID)
	}
	return nil
}
