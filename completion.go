package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	defaultMaxAttempts   = 3
	baseTimeoutUnits     = 120
	timeoutStepUnits     = 30
	maxCompletionBytes   = 4 * 1024 * 1024
	errorBodyExcerptSize = 200
)

// attemptOutcome classifies a single completion attempt
type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeRetryable
	outcomeFatal
)

func (o attemptOutcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

type attemptResult struct {
	outcome    attemptOutcome
	completion Completion
	err        error
	timedOut   bool
}

// retryState is a state of the retry loop in Complete
type retryState int

const (
	stateAttempting retryState = iota
	stateBackoff
	stateSucceeded
	stateFailed
)

// CompletionClient sends chat completion requests with bounded retries
type CompletionClient struct {
	endpoint    string
	apiKey      string
	model       string
	client      *http.Client
	unit        time.Duration
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewCompletionClient creates a client; unit is the length of one time-unit for timeouts and backoff
func NewCompletionClient(cfg MistralConfig, unit time.Duration) *CompletionClient {
	return &CompletionClient{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		client:      &http.Client{},
		unit:        unit,
		maxAttempts: defaultMaxAttempts,
		sleep:       sleepContext,
	}
}

// Configured reports whether an API key is set
func (c *CompletionClient) Configured() bool {
	return c.apiKey != ""
}

// attemptTimeout is 120 units for the first attempt, plus 30 for each retry
func (c *CompletionClient) attemptTimeout(k int) time.Duration {
	return time.Duration(baseTimeoutUnits+k*timeoutStepUnits) * c.unit
}

// backoff is 2^k units before attempt k+1
func (c *CompletionClient) backoff(k int) time.Duration {
	return time.Duration(1<<k) * c.unit
}

// Complete sends prompt and returns the generated text with its estimated token count.
// Timeouts and network errors are retried; any other failure returns at once.
func (c *CompletionClient) Complete(ctx context.Context, prompt string) (Completion, error) {
	body, err := json.Marshal(NewCompletionRequest(c.model, prompt))
	if err != nil {
		return Completion{}, &UnknownCompletionError{Err: err}
	}
	requestID := uuid.NewString()

	state := stateAttempting
	k := 0
	var last attemptResult
	for {
		switch state {
		case stateAttempting:
			timeout := c.attemptTimeout(k)
			slog.Info("Sending completion request", "request_id", requestID, "attempt", k+1, "max_attempts", c.maxAttempts, "timeout", timeout)

			last = c.attempt(ctx, body, timeout)
			completionAttemptsTotal.WithLabelValues(last.outcome.String()).Inc()

			switch last.outcome {
			case outcomeSuccess:
				state = stateSucceeded
			case outcomeRetryable:
				slog.Warn("Completion attempt failed", "request_id", requestID, "attempt", k+1, "timeout", last.timedOut, "error", last.err)
				if k+1 < c.maxAttempts {
					state = stateBackoff
				} else {
					state = stateFailed
				}
			default:
				slog.Error("Completion request failed", "request_id", requestID, "attempt", k+1, "error", last.err)
				state = stateFailed
			}

		case stateBackoff:
			wait := c.backoff(k)
			slog.Info("Retrying completion request", "request_id", requestID, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				last = attemptResult{outcome: outcomeFatal, err: &UnknownCompletionError{Err: err}}
				state = stateFailed
				continue
			}
			k++
			state = stateAttempting

		case stateSucceeded:
			slog.Info("Completion succeeded", "request_id", requestID, "attempts", k+1, "tokens", last.completion.Tokens)
			return last.completion, nil

		case stateFailed:
			if last.outcome == outcomeRetryable {
				return Completion{}, &TransientCompletionError{
					Attempts:    k + 1,
					Timeout:     last.timedOut,
					LastTimeout: c.attemptTimeout(k),
					Err:         last.err,
				}
			}
			return Completion{}, last.err
		}
	}
}

func (c *CompletionClient) attempt(ctx context.Context, body []byte, timeout time.Duration) attemptResult {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return attemptResult{outcome: outcomeFatal, err: &UnknownCompletionError{Err: err}}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return transientResult(ctx, err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxCompletionBytes))
	if err != nil {
		return transientResult(ctx, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return attemptResult{outcome: outcomeFatal, err: &CompletionServiceError{
			StatusCode: res.StatusCode,
			Message:    serviceErrorMessage(data),
		}}
	}

	var parsed completionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return attemptResult{outcome: outcomeFatal, err: &UnknownCompletionError{Err: fmt.Errorf("failed to decode response: %w", err)}}
	}
	if len(parsed.Choices) == 0 {
		return attemptResult{outcome: outcomeFatal, err: &UnknownCompletionError{Err: errors.New("response has no choices")}}
	}

	text := parsed.Choices[0].Message.Content
	return attemptResult{
		outcome:    outcomeSuccess,
		completion: Completion{Text: text, Tokens: EstimateTokens(text)},
	}
}

// transientResult classifies a transport error. Once the caller's context is done nothing is retryable.
func transientResult(parent context.Context, err error) attemptResult {
	if parent.Err() != nil {
		return attemptResult{outcome: outcomeFatal, err: &UnknownCompletionError{Err: err}}
	}

	timedOut := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timedOut = true
	}
	return attemptResult{outcome: outcomeRetryable, err: err, timedOut: timedOut}
}

// serviceErrorMessage pulls "message" or "error.message" out of an error body, else the first 200 characters
func serviceErrorMessage(data []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var plain string
		if err := json.Unmarshal(payload.Error, &plain); err == nil && plain != "" {
			return plain
		}
	}

	text := string(data)
	if utf8.RuneCountInString(text) <= errorBodyExcerptSize {
		return text
	}
	return string([]rune(text)[:errorBodyExcerptSize])
}
