package lights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// linkButtonNotPressed is the bridge's error type when pairing is attempted
// without pressing the physical button first.
const linkButtonNotPressed = 101

type Credentials struct {
	Username  string `json:"username"`
	ClientKey string `json:"clientkey,omitempty"`
}

// BridgeAPIURL is the pairing endpoint of the bridge at address.
func BridgeAPIURL(address string) string {
	return fmt.Sprintf("https://%s/api", address)
}

// Pair asks the bridge for a new application key. It returns
// ErrPairingRequired until the bridge's link button has been pressed.
func Pair(ctx context.Context, httpClient *http.Client, apiURL, deviceType string) (Credentials, error) {
	body, err := json.Marshal(map[string]any{
		"devicetype":        deviceType,
		"generateclientkey": true,
	})
	if err != nil {
		return Credentials{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credentials{}, fmt.Errorf("read pairing response: %w", err)
	}

	var results []struct {
		Success *Credentials `json:"success,omitempty"`
		Error   *struct {
			Type        int    `json:"type"`
			Description string `json:"description"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &results); err != nil {
		return Credentials{}, fmt.Errorf("unexpected response from bridge (HTTP %d): %w", resp.StatusCode, err)
	}
	if len(results) == 0 {
		return Credentials{}, fmt.Errorf("empty response from bridge")
	}

	if e := results[0].Error; e != nil {
		if e.Type == linkButtonNotPressed {
			return Credentials{}, fmt.Errorf("%w: link button not pressed", ErrPairingRequired)
		}
		return Credentials{}, fmt.Errorf("bridge error %d: %s", e.Type, e.Description)
	}

	if s := results[0].Success; s != nil && s.Username != "" {
		return *s, nil
	}
	return Credentials{}, fmt.Errorf("unexpected response from bridge")
}
