/**
 * @description
 * Codec for the plaintext GET-query dialect spoken by smsactivate and smshub.
 * Responses are single-line, colon-delimited strings such as
 * "ACCESS_NUMBER:<ref>:<phone>:<cost>" or bare status words like "NO_NUMBERS".
 */

package provider

import (
	"fmt"
	"strconv"
	"strings"
)

// textProtocolError is a protocol-level rejection from a plaintext upstream
// (bad key, malformed request, server-side error words).
type textProtocolError struct {
	provider string
	response string
}

func (e *textProtocolError) Error() string {
	return fmt.Sprintf("%s protocol error: %s", e.provider, e.response)
}

// parseTextAcquire decodes an acquisition response in the plaintext dialect.
func parseTextAcquire(providerName, body string) (*AcquireResult, error) {
	response := strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(response, "ACCESS_NUMBER:"):
		parts := strings.Split(response, ":")
		if len(parts) != 4 {
			return nil, &textProtocolError{provider: providerName, response: response}
		}
		cost, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil || cost < 0 {
			return nil, &textProtocolError{provider: providerName, response: response}
		}
		return &AcquireResult{
			Status:   AcquireOK,
			OrderRef: parts[1],
			Phone:    parts[2],
			Cost:     cost,
		}, nil
	case response == "NO_NUMBERS":
		return &AcquireResult{Status: AcquireNoStock}, nil
	default:
		return nil, &textProtocolError{provider: providerName, response: response}
	}
}

// parseTextPoll decodes a status-poll response in the plaintext dialect.
// "NO_ACTIVATION" maps to cancelled; the orchestrator applies the grace window
// before trusting it for a freshly created order.
func parseTextPoll(providerName, body string) (*PollResult, error) {
	response := strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(response, "STATUS_OK:"):
		code := strings.TrimPrefix(response, "STATUS_OK:")
		return &PollResult{State: PollDelivered, Code: code, Text: code}, nil
	case response == "STATUS_WAIT_CODE" || response == "STATUS_WAIT_RETRY":
		return &PollResult{State: PollWaiting}, nil
	case response == "STATUS_EXPIRED":
		return &PollResult{State: PollTimeout}, nil
	case response == "STATUS_CANCEL" || response == "NO_ACTIVATION":
		return &PollResult{State: PollCancelled}, nil
	default:
		return nil, &textProtocolError{provider: providerName, response: response}
	}
}

// parseTextCancel decodes a cancellation response in the plaintext dialect.
// Cancelling an already-cancelled order is not an error.
func parseTextCancel(providerName, body string) error {
	response := strings.TrimSpace(body)
	switch response {
	case "ACCESS_CANCEL", "STATUS_CANCEL", "NO_ACTIVATION":
		return nil
	default:
		return &textProtocolError{provider: providerName, response: response}
	}
}
