package main

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is reported when the engagement endpoint answers 429
	ErrRateLimited = errors.New("rate limited by reddit")

	// ErrMissingAPIKey is returned when a plan is requested without a completion API key
	ErrMissingAPIKey = errors.New("server has not configured the completion API key")

	// ErrMissingSearchTerms is returned when subreddit or keyword is empty
	ErrMissingSearchTerms = errors.New("please enter subreddit and keyword")

	// ErrInvalidPermalink is returned for detail requests that are not post permalinks
	ErrInvalidPermalink = errors.New("post link not found")
)

// ParseError means the search feed was not a well-formed feed document
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse reddit feed: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FeedStatusError is returned when Reddit answers a feed or detail request with a non-200 status
type FeedStatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *FeedStatusError) Error() string {
	return fmt.Sprintf("reddit API error: %d", e.StatusCode)
}

// LookupError describes one failed engagement lookup. It is logged, never returned to callers.
type LookupError struct {
	Permalink  string
	StatusCode int
	Err        error
}

func (e *LookupError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("lookup %s: HTTP %d", e.Permalink, e.StatusCode)
	}
	return fmt.Sprintf("lookup %s: %v", e.Permalink, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// QuotaExceededError means the daily token budget cannot cover the request
type QuotaExceededError struct {
	Used      int
	Requested int
	Limit     int
}

func (e *QuotaExceededError) Error() string {
	return "Daily AI token limit reached. Quota resets at UTC midnight. Please come back tomorrow."
}

// TransientCompletionError is returned once every attempt ended in a timeout or network error
type TransientCompletionError struct {
	Attempts int
	Timeout  bool
	// LastTimeout is the per-attempt timeout used by the final attempt
	LastTimeout time.Duration
	Err         error
}

func (e *TransientCompletionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("completion API timeout: request timed out after %s (%d attempts). "+
			"Possible causes: 1) network connection issues 2) API service busy 3) request content too long. "+
			"Please try again later or check your network connection", e.LastTimeout, e.Attempts)
	}
	return fmt.Sprintf("completion API network error after %d attempts: %v. "+
		"Possible causes: 1) network connection issues 2) API service busy 3) request content too long", e.Attempts, e.Err)
}

func (e *TransientCompletionError) Unwrap() error { return e.Err }

// CompletionServiceError is a non-2xx answer from the completion service. It is never retried.
type CompletionServiceError struct {
	StatusCode int
	Message    string
}

func (e *CompletionServiceError) Error() string {
	return fmt.Sprintf("completion API error: HTTP %d: %s", e.StatusCode, e.Message)
}

// UnknownCompletionError wraps any other failure of a completion attempt
type UnknownCompletionError struct {
	Err error
}

func (e *UnknownCompletionError) Error() string {
	return fmt.Sprintf("completion API unknown error: %v", e.Err)
}

func (e *UnknownCompletionError) Unwrap() error { return e.Err }
