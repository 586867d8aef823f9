package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Engagement holds the authoritative counts for one post
type Engagement struct {
	Score        int
	CommentCount int
}

// EngagementSource looks up engagement counts for a permalink
type EngagementSource interface {
	FetchEngagement(ctx context.Context, permalink string) (Engagement, error)
}

// EnrichmentReport summarizes one enrichment pass
type EnrichmentReport struct {
	Attempted   int  `json:"attempted"`
	Enriched    int  `json:"enriched"`
	Failed      int  `json:"failed"`
	RateLimited bool `json:"rate_limited"`
}

// Enricher fills in score and comment counts, one lookup at a time
type Enricher struct {
	source  EngagementSource
	timeout time.Duration
	delay   time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewEnricher creates an Enricher with a per-lookup timeout and a fixed pause between lookups
func NewEnricher(source EngagementSource, timeout, delay time.Duration) *Enricher {
	return &Enricher{
		source:  source,
		timeout: timeout,
		delay:   delay,
		sleep:   sleepContext,
	}
}

// Enrich updates items in place. Failed lookups leave the defaults; a 429 stops the pass.
// It never returns an error.
func (e *Enricher) Enrich(ctx context.Context, items []ContentItem) EnrichmentReport {
	var report EnrichmentReport

	for i := range items {
		item := &items[i]
		if item.Permalink == "" {
			continue
		}

		if report.Attempted > 0 {
			if err := e.sleep(ctx, e.delay); err != nil {
				slog.Warn("Enrichment interrupted", "error", err, "remaining", len(items)-i)
				return report
			}
		}
		report.Attempted++

		engagement, err := e.lookup(ctx, item.Permalink)
		switch {
		case errors.Is(err, ErrRateLimited):
			slog.Warn("Rate limited while fetching scores, keeping remaining posts unscored", "position", i+1, "permalink", item.Permalink)
			lookupsTotal.WithLabelValues("rate_limited").Inc()
			report.RateLimited = true
			return report
		case err != nil:
			slog.Warn("Failed to fetch post engagement", "error", err, "id", item.ID)
			lookupsTotal.WithLabelValues("failed").Inc()
			report.Failed++
			continue
		}

		item.Score = engagement.Score
		item.CommentCount = engagement.CommentCount
		report.Enriched++
		lookupsTotal.WithLabelValues("ok").Inc()
		slog.Debug("Fetched post engagement", "id", item.ID, "score", item.Score, "comments", item.CommentCount)
	}

	return report
}

func (e *Enricher) lookup(ctx context.Context, permalink string) (Engagement, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.source.FetchEngagement(lookupCtx, permalink)
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
