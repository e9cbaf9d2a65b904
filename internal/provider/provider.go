/**
 * @description
 * This package defines the contract every upstream number provider is adapted to,
 * plus the registry the orchestrator uses to resolve a caller's provider priority
 * list. The orchestrator never branches on provider identity beyond looking an
 * adapter up by name.
 *
 * Four upstreams are adapted, in two wire dialects:
 * - smsactivate, smshub: plaintext GET-query protocol (textcodec.go)
 * - fivesim, onlinesim: JSON REST
 */

package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownProvider is returned when a priority list names an unregistered provider.
var ErrUnknownProvider = errors.New("unknown provider")

// AcquireStatus is the closed outcome set for an acquisition attempt. Transport
// and protocol failures are reported through the error return instead.
type AcquireStatus int

const (
	AcquireOK AcquireStatus = iota
	AcquireNoStock
)

// AcquireResult reports a successful or stock-exhausted acquisition.
type AcquireResult struct {
	Status   AcquireStatus
	OrderRef string
	Phone    string
	Cost     int64 // in account credit units
}

// PollState is the closed outcome set for a status poll.
type PollState int

const (
	PollWaiting PollState = iota
	PollDelivered
	PollTimeout
	PollCancelled
)

func (s PollState) String() string {
	switch s {
	case PollWaiting:
		return "waiting"
	case PollDelivered:
		return "delivered"
	case PollTimeout:
		return "timeout"
	case PollCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("poll_state(%d)", int(s))
}

// PollResult reports the provider-side order status. Code and Text are set only
// for PollDelivered.
type PollResult struct {
	State PollState
	Code  string
	Text  string
}

// Adapter is implemented once per upstream provider.
type Adapter interface {
	Name() string
	Acquire(ctx context.Context, serviceCode, countryCode, operatorHint string) (*AcquireResult, error)
	PollStatus(ctx context.Context, orderRef string) (*PollResult, error)
	// Cancel is best-effort; callers use it when abandoning an order they have
	// already reserved funds for.
	Cancel(ctx context.Context, orderRef string) error
}

// Registry maps provider names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get resolves one adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return adapter, nil
}

// Names returns the registered provider names, sorted for stable logs.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
