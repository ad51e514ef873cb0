package notify

import (
	"context"

	"github.com/fieldnote/fieldnote/pkg/observability"
)

// LogDispatcher writes notifications to the log instead of sending them.
// Every token counts as delivered.
type LogDispatcher struct {
	logger *observability.Logger
}

// NewLogDispatcher creates a log-only dispatcher
func NewLogDispatcher(logger *observability.Logger) *LogDispatcher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogDispatcher{logger: logger}
}

// Send logs the payload
func (d *LogDispatcher) Send(_ context.Context, tokens []string, payload Payload) ([]Result, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	d.logger.WithFields(map[string]interface{}{
		"title":  payload.Title,
		"body":   payload.Body,
		"tokens": len(tokens),
	}).Info("Push notification")

	return []Result{{Success: len(tokens)}}, nil
}
