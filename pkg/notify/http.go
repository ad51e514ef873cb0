package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fieldnote/fieldnote/pkg/observability"
)

const (
	// DefaultChunkSize is the most tokens sent in one request
	DefaultChunkSize = 100

	// DefaultTimeout bounds one request to the push service
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// HTTPConfig configures an HTTPDispatcher
type HTTPConfig struct {
	Endpoint    string
	AccessToken string
	ChunkSize   int
	Timeout     time.Duration
}

// HTTPDispatcher posts Expo-style push messages to a push service
type HTTPDispatcher struct {
	config HTTPConfig
	client *http.Client
	logger *observability.Logger
}

// message is one entry of the push request body
type message struct {
	To    string                 `json:"to"`
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
	Sound string                 `json:"sound,omitempty"`
}

type ticket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

type pushResponse struct {
	Data []ticket `json:"data"`
}

// NewHTTPDispatcher creates a dispatcher for config.Endpoint
func NewHTTPDispatcher(config HTTPConfig, logger *observability.Logger) (*HTTPDispatcher, error) {
	if config.Endpoint == "" {
		return nil, errors.New("notify: endpoint is required")
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &HTTPDispatcher{
		config: config,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}, nil
}

// Send posts tokens in chunks. A chunk that cannot be delivered counts all of
// its tokens as failures; the returned error joins the chunk errors.
func (d *HTTPDispatcher) Send(ctx context.Context, tokens []string, payload Payload) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)

	for start := 0; start < len(tokens); start += d.config.ChunkSize {
		end := start + d.config.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]

		result, err := d.sendChunk(ctx, chunk, payload)
		if err != nil {
			errs = append(errs, err)
			result = Result{Failure: len(chunk)}
		}
		results = append(results, result)
	}

	return results, errors.Join(errs...)
}

func (d *HTTPDispatcher) sendChunk(ctx context.Context, tokens []string, payload Payload) (Result, error) {
	requestID := uuid.NewString()
	logger := d.logger.WithFields(map[string]interface{}{
		"request_id": requestID,
		"tokens":     len(tokens),
	})

	messages := make([]message, len(tokens))
	for i, token := range tokens {
		messages[i] = message{
			To:    token,
			Title: payload.Title,
			Body:  payload.Body,
			Data:  payload.Custom,
			Sound: "default",
		}
	}

	body, err := json.Marshal(messages)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if d.config.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.config.AccessToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to send push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Result{}, fmt.Errorf("push service returned non-2xx status: %d", resp.StatusCode)
	}

	var parsed pushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("failed to decode push response: %w", err)
	}

	var result Result
	for _, t := range parsed.Data {
		if t.Status == "ok" {
			result.Success++
		} else {
			result.Failure++
			logger.WithField("ticket_message", t.Message).Debug("Push ticket rejected")
		}
	}
	// tickets missing from the response were not accepted
	if missing := len(tokens) - len(parsed.Data); missing > 0 {
		result.Failure += missing
	}

	logger.WithFields(map[string]interface{}{
		"success": result.Success,
		"failure": result.Failure,
	}).Debug("Push chunk sent")

	return result, nil
}
