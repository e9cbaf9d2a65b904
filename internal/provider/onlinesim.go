/**
 * @description
 * Adapter for the onlinesim upstream: JSON over GET endpoints with an apikey
 * query parameter. Acquisition and polling use different response envelopes
 * (an object for getNum, an array of operation states for getState).
 */

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OnlineSimAdapter adapts the onlinesim JSON API.
type OnlineSimAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOnlineSimAdapter creates a new onlinesim adapter.
func NewOnlineSimAdapter(baseURL, apiKey string) *OnlineSimAdapter {
	return &OnlineSimAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (a *OnlineSimAdapter) Name() string { return "onlinesim" }

type onlineSimNumResponse struct {
	Response json.RawMessage `json:"response"`
	TzID     int64           `json:"tzid"`
	Number   string          `json:"number"`
	Sum      int64           `json:"sum"`
}

type onlineSimState struct {
	Response string `json:"response"`
	Msg      string `json:"msg"`
	Text     string `json:"text"`
}

func (a *OnlineSimAdapter) Acquire(ctx context.Context, serviceCode, countryCode, operatorHint string) (*AcquireResult, error) {
	params := url.Values{}
	params.Set("service", serviceCode)
	params.Set("country", countryCode)
	if operatorHint != "" {
		params.Set("operator", operatorHint)
	}

	raw, err := a.call(ctx, "/api/getNum.php", params)
	if err != nil {
		return nil, err
	}

	var num onlineSimNumResponse
	if err := json.Unmarshal(raw, &num); err != nil {
		return nil, fmt.Errorf("onlinesim getNum response decode failed: %w", err)
	}

	// response is 1 on success and an error word otherwise.
	response := strings.Trim(strings.TrimSpace(string(num.Response)), `"`)
	switch response {
	case "1":
		return &AcquireResult{
			Status:   AcquireOK,
			OrderRef: fmt.Sprintf("%d", num.TzID),
			Phone:    num.Number,
			Cost:     num.Sum,
		}, nil
	case "NO_NUMBER", "EXCEEDED_CONCURRENT_OPERATIONS":
		return &AcquireResult{Status: AcquireNoStock}, nil
	default:
		return nil, fmt.Errorf("onlinesim getNum rejected: %s", response)
	}
}

func (a *OnlineSimAdapter) PollStatus(ctx context.Context, orderRef string) (*PollResult, error) {
	params := url.Values{}
	params.Set("tzid", orderRef)
	params.Set("message_to_code", "1")

	raw, err := a.call(ctx, "/api/getState.php", params)
	if err != nil {
		return nil, err
	}

	var states []onlineSimState
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("onlinesim getState response decode failed: %w", err)
	}
	if len(states) == 0 {
		// No operation found for the tzid; grace window applies upstream.
		return &PollResult{State: PollCancelled}, nil
	}

	state := states[0]
	switch state.Response {
	case "TZ_NUM_WAIT":
		return &PollResult{State: PollWaiting}, nil
	case "TZ_NUM_ANSWER":
		text := state.Text
		if text == "" {
			text = state.Msg
		}
		return &PollResult{State: PollDelivered, Code: state.Msg, Text: text}, nil
	case "TZ_OVER_EMPTY":
		return &PollResult{State: PollTimeout}, nil
	case "TZ_OVER_OK", "TZ_CANCEL", "ERROR_NO_OPERATIONS":
		return &PollResult{State: PollCancelled}, nil
	default:
		return nil, fmt.Errorf("onlinesim unknown operation state %q", state.Response)
	}
}

func (a *OnlineSimAdapter) Cancel(ctx context.Context, orderRef string) error {
	params := url.Values{}
	params.Set("tzid", orderRef)

	raw, err := a.call(ctx, "/api/setOperationRevise.php", params)
	if err != nil {
		return err
	}

	var result struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("onlinesim cancel response decode failed: %w", err)
	}
	response := strings.Trim(strings.TrimSpace(string(result.Response)), `"`)
	if response != "1" && response != "ERROR_NO_OPERATIONS" {
		return fmt.Errorf("onlinesim cancel rejected: %s", response)
	}
	return nil
}

func (a *OnlineSimAdapter) call(ctx context.Context, path string, params url.Values) ([]byte, error) {
	params.Set("apikey", a.apiKey)
	endpoint := fmt.Sprintf("%s%s?%s", a.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("onlinesim request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("onlinesim response read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("onlinesim unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
