package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/DmytroChyzh/ciedenmanager/internal/logging"
	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

const (
	// DefaultTimeout bounds one HTTP round trip.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxRetries is the number of retries after a connection-level failure.
	DefaultMaxRetries = 2
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = 500 * time.Millisecond
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 5 * time.Second

	maxResponseBytes = 4 << 20
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	// Client overrides the underlying http.Client; Timeout is ignored when set.
	Client *http.Client
	Logger *zerolog.Logger
}

// HTTPClient implements Completer over the JSON contract.
type HTTPClient struct {
	url        string
	apiKey     string
	maxRetries int
	client     *http.Client
	log        zerolog.Logger

	// retryInitial is shortened by tests.
	retryInitial time.Duration
}

type requestBody struct {
	Messages []Turn `json:"messages"`
}

type responseBody struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// NewHTTPClient creates a client for the completion endpoint.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	log := logging.Component("completion")
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &HTTPClient{
		url:          cfg.URL,
		apiKey:       cfg.APIKey,
		maxRetries:   maxRetries,
		client:       client,
		log:          log,
		retryInitial: RetryInitialInterval,
	}
}

// newRetryBackoff creates an exponential backoff with jitter for
// connection-level retries.
func (c *HTTPClient) newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = RetryMaxInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

// Complete posts the turns and returns the reply text.
func (c *HTTPClient) Complete(ctx context.Context, turns []Turn) (string, error) {
	if c.url == "" {
		return "", transportError(errors.New("completion service URL is not configured"))
	}

	payload, err := json.Marshal(requestBody{Messages: turns})
	if err != nil {
		return "", transportError(fmt.Errorf("failed to encode request: %w", err))
	}

	retryBackoff := c.newRetryBackoff(ctx)
	attempt := 0
	for {
		attempt++
		text, retryable, err := c.roundTrip(ctx, payload)
		if err == nil {
			return text, nil
		}
		if !retryable {
			return "", transportError(err)
		}

		next := retryBackoff.NextBackOff()
		if next == backoff.Stop {
			return "", transportError(err)
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("retryIn", next).Msg("completion request failed, retrying")

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", transportError(err)
		case <-timer.C:
		}
	}
}

// roundTrip performs one request. retryable is true only for failures where
// no HTTP response was received.
func (c *HTTPClient) roundTrip(ctx context.Context, payload []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", false, fmt.Errorf("failed to read response: %w", err)
	}

	var body responseBody
	decodeErr := json.Unmarshal(data, &body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && strings.TrimSpace(body.Error) != "" {
			return "", false, errors.New(body.Error)
		}
		return "", false, fmt.Errorf("completion service returned status %d", resp.StatusCode)
	}

	if decodeErr != nil {
		return "", false, fmt.Errorf("%w: %v", types.ErrMalformedPayload, decodeErr)
	}
	if strings.TrimSpace(body.Text) == "" {
		if body.Error != "" {
			return "", false, errors.New(body.Error)
		}
		return "", false, types.ErrEmptyCompletion
	}
	return body.Text, false, nil
}
