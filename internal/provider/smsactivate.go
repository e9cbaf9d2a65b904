/**
 * @description
 * Adapter for the sms-activate upstream. It speaks the plaintext GET-query
 * dialect: one handler URL, an `action` parameter, colon-delimited responses.
 *
 * @dependencies
 * - context, fmt, io, net/http, net/url, time: Standard Go libraries.
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

// SMSActivateAdapter adapts the sms-activate plaintext API.
type SMSActivateAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewSMSActivateAdapter creates a new sms-activate adapter.
func NewSMSActivateAdapter(baseURL, apiKey string) *SMSActivateAdapter {
	return &SMSActivateAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (a *SMSActivateAdapter) Name() string { return "smsactivate" }

// Acquire requests a number for the service/country pair.
func (a *SMSActivateAdapter) Acquire(ctx context.Context, serviceCode, countryCode, operatorHint string) (*AcquireResult, error) {
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

// PollStatus checks the delivery state of an order.
func (a *SMSActivateAdapter) PollStatus(ctx context.Context, orderRef string) (*PollResult, error) {
	params := url.Values{}
	params.Set("action", "getStatus")
	params.Set("id", orderRef)
	body, err := a.call(ctx, params)
	if err != nil {
		return nil, err
	}
	return parseTextPoll(a.Name(), body)
}

// Cancel abandons an order on the provider side.
func (a *SMSActivateAdapter) Cancel(ctx context.Context, orderRef string) error {
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

func (a *SMSActivateAdapter) call(ctx context.Context, params url.Values) (string, error) {
	params.Set("api_key", a.apiKey)
	endpoint := fmt.Sprintf("%s/stubs/handler_api.php?%s", a.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("smsactivate request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("smsactivate response read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("smsactivate unexpected status %d: %s", resp.StatusCode, string(raw))
	}
	return string(raw), nil
}
