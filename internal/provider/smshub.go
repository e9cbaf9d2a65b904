/**
 * @description
 * Adapter for the smshub upstream, which speaks the same plaintext dialect as
 * sms-activate behind a different endpoint and auth parameter name.
 */

package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// SMSHubAdapter adapts the smshub plaintext API.
type SMSHubAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewSMSHubAdapter creates a new smshub adapter.
func NewSMSHubAdapter(baseURL, apiKey string) *SMSHubAdapter {
	return &SMSHubAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (a *SMSHubAdapter) Name() string { return "smshub" }

func (a *SMSHubAdapter) Acquire(ctx context.Context, serviceCode, countryCode, operatorHint string) (*AcquireResult, error) {
	params := url.Values{}
	params.Set("action", "getNumber")
	params.Set("service", serviceCode)
	params.Set("country", countryCode)
	if operatorHint != "" {
		params.Set("operator", operatorHint)
	}
	body, err := a.call(ctx, params)
	if err != nil {
		return nil, err
	}
	return parseTextAcquire(a.Name(), body)
}

func (a *SMSHubAdapter) PollStatus(ctx context.Context, orderRef string) (*PollResult, error) {
	params := url.Values{}
	params.Set("action", "getStatus")
	params.Set("id", orderRef)
	body, err := a.call(ctx, params)
	if err != nil {
		return nil, err
	}
	return parseTextPoll(a.Name(), body)
}

func (a *SMSHubAdapter) Cancel(ctx context.Context, orderRef string) error {
	params := url.Values{}
	params.Set("action", "setStatus")
	params.Set("status", "8")
	params.Set("id", orderRef)
	body, err := a.call(ctx, params)
	if err != nil {
		return err
	}
	return parseTextCancel(a.Name(), body)
}

func (a *SMSHubAdapter) call(ctx context.Context, params url.Values) (string, error) {
	params.Set("key", a.apiKey)
	endpoint := fmt.Sprintf("%s/api/handler.php?%s", a.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("smshub request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("smshub response read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("smshub unexpected status %d: %s", resp.StatusCode, string(raw))
	}
	return string(raw), nil
}
