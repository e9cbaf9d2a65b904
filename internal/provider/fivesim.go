/**
 * @description
 * Adapter for the 5sim upstream: JSON REST with Bearer token auth. Stock
 * exhaustion comes back as a 400 with a "no free phones" body rather than a
 * structured error, so that case is matched on the response text.
 *
 * @dependencies
 * - context, encoding/json, fmt, io, net/http, strings, time: Standard Go libraries.
 */

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FiveSimAdapter adapts the 5sim JSON API.
type FiveSimAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFiveSimAdapter creates a new 5sim adapter.
func NewFiveSimAdapter(baseURL, apiKey string) *FiveSimAdapter {
	return &FiveSimAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (a *FiveSimAdapter) Name() string { return "fivesim" }

type fiveSimOrderResponse struct {
	ID     int64  `json:"id"`
	Phone  string `json:"phone"`
	Price  int64  `json:"price"`
	Status string `json:"status"`
	SMS    []struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"sms"`
}

func (a *FiveSimAdapter) Acquire(ctx context.Context, serviceCode, countryCode, operatorHint string) (*AcquireResult, error) {
	operator := operatorHint
	if operator == "" {
		operator = "any"
	}
	endpoint := fmt.Sprintf("%s/v1/user/buy/activation/%s/%s/%s", a.baseURL, countryCode, operator, serviceCode)

	status, raw, err := a.call(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if status == http.StatusBadRequest && strings.Contains(strings.ToLower(string(raw)), "no free phones") {
		return &AcquireResult{Status: AcquireNoStock}, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fivesim buy failed with status %d: %s", status, strings.TrimSpace(string(raw)))
	}

	var order fiveSimOrderResponse
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("fivesim buy response decode failed: %w", err)
	}
	return &AcquireResult{
		Status:   AcquireOK,
		OrderRef: fmt.Sprintf("%d", order.ID),
		Phone:    order.Phone,
		Cost:     order.Price,
	}, nil
}

func (a *FiveSimAdapter) PollStatus(ctx context.Context, orderRef string) (*PollResult, error) {
	endpoint := fmt.Sprintf("%s/v1/user/check/%s", a.baseURL, orderRef)

	status, raw, err := a.call(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		// Observed transiently right after purchase; the orchestrator applies the
		// grace window before trusting it.
		return &PollResult{State: PollCancelled}, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fivesim check failed with status %d: %s", status, strings.TrimSpace(string(raw)))
	}

	var order fiveSimOrderResponse
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("fivesim check response decode failed: %w", err)
	}

	switch strings.ToUpper(order.Status) {
	case "PENDING":
		return &PollResult{State: PollWaiting}, nil
	case "RECEIVED", "FINISHED":
		if len(order.SMS) == 0 {
			return &PollResult{State: PollWaiting}, nil
		}
		last := order.SMS[len(order.SMS)-1]
		return &PollResult{State: PollDelivered, Code: last.Code, Text: last.Text}, nil
	case "TIMEOUT":
		return &PollResult{State: PollTimeout}, nil
	case "CANCELED", "BANNED":
		return &PollResult{State: PollCancelled}, nil
	default:
		return nil, fmt.Errorf("fivesim unknown order status %q", order.Status)
	}
}

func (a *FiveSimAdapter) Cancel(ctx context.Context, orderRef string) error {
	endpoint := fmt.Sprintf("%s/v1/user/cancel/%s", a.baseURL, orderRef)

	status, raw, err := a.call(ctx, endpoint)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNotFound {
		return fmt.Errorf("fivesim cancel failed with status %d: %s", status, strings.TrimSpace(string(raw)))
	}
	return nil
}

func (a *FiveSimAdapter) call(ctx context.Context, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fivesim request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("fivesim response read failed: %w", err)
	}
	return resp.StatusCode, raw, nil
}
