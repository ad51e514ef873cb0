package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/fieldnote/fieldnote/pkg/observability"
)

// ErrDispatchFailed marks a send that reached no device
var ErrDispatchFailed = errors.New("notify: dispatch failed")

// Payload is the content of one push notification
type Payload struct {
	Title  string                 `json:"title"`
	Body   string                 `json:"body"`
	Custom map[string]interface{} `json:"custom,omitempty"`
}

// Result reports delivery counts for one batch of tokens
type Result struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Dispatcher sends a payload to a set of device push tokens.
// Implementations return one Result per batch they sent.
type Dispatcher interface {
	Send(ctx context.Context, tokens []string, payload Payload) ([]Result, error)
}

// Succeeded reports whether a send counts as delivered: any batch reached at
// least one device, or no batch reported a failure. An empty result list is a
// success.
func Succeeded(results []Result) bool {
	for _, r := range results {
		if r.Success > 0 {
			return true
		}
	}
	for _, r := range results {
		if r.Failure != 0 {
			return false
		}
	}
	return true
}

// Totals sums the counts of all results
func Totals(results []Result) Result {
	var total Result
	for _, r := range results {
		total.Success += r.Success
		total.Failure += r.Failure
	}
	return total
}

// Dispatcher kinds accepted by New
const (
	KindHTTP = "http"
	KindLog  = "log"
)

// New builds the dispatcher of the given kind. The HTTP settings are ignored
// for the log dispatcher.
func New(kind string, config HTTPConfig, logger *observability.Logger) (Dispatcher, error) {
	switch kind {
	case KindHTTP:
		d, err := NewHTTPDispatcher(config, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case KindLog:
		return NewLogDispatcher(logger), nil
	default:
		return nil, fmt.Errorf("notify: unknown dispatcher %q", kind)
	}
}
