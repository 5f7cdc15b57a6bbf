package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// TwilioCaller places interactive voice calls via the Twilio REST API.
// The recipient is a phone number; the prompt URL serves the TwiML script
// that offers digit-press responses.
type TwilioCaller struct {
	accountSID string
	authToken  string
	fromNumber string
	client     *http.Client
}

func NewTwilioCaller(accountSID, authToken, fromNumber string) *TwilioCaller {
	return &TwilioCaller{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		client:     &http.Client{},
	}
}

// PlaceVoiceCall starts an outbound call and returns the call SID.
func (c *TwilioCaller) PlaceVoiceCall(ctx context.Context, recipient, promptURL string) (string, error) {
	if c.accountSID == "" || c.authToken == "" || c.fromNumber == "" {
		return "", fmt.Errorf("missing Twilio configuration: AccountSID, AuthToken, or FromNumber is empty")
	}

	urlStr := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Calls.json", c.accountSID)
	callData := url.Values{}
	callData.Set("To", recipient)
	callData.Set("From", c.fromNumber)
	callData.Set("Url", promptURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, strings.NewReader(callData.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create voice call request for %s: %w", recipient, err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to place voice call to %s: %w", recipient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("Twilio API returned status %d for call to %s", resp.StatusCode, recipient)
	}

	var result struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode Twilio call response: %w", err)
	}
	return result.SID, nil
}
