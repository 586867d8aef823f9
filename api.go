package main

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxFeedBytes     = 5 * 1024 * 1024
	maxPostBytes     = 2 * 1024 * 1024
)

// RedditClient talks to the search feed, the post JSON endpoint and the detail endpoint
type RedditClient struct {
	baseURL       string
	detailBaseURL string
	userAgent     string
	client        *http.Client
	timeout       time.Duration
	mdConverter   *converter.Converter
}

// NewRedditClient creates a client; timeout bounds feed and detail requests
func NewRedditClient(cfg RedditConfig, timeout time.Duration) *RedditClient {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &RedditClient{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		detailBaseURL: strings.TrimSuffix(cfg.DetailBaseURL, "/"),
		userAgent:     userAgent,
		client:        &http.Client{},
		timeout:       timeout,
		mdConverter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// SearchURL builds the top-of-the-year search feed URL for a community and keyword
func (c *RedditClient) SearchURL(community, keyword string) string {
	query := url.Values{}
	query.Set("q", keyword)
	query.Set("restrict_sr", "on")
	query.Set("sort", "top")
	query.Set("t", "year")
	query.Set("limit", "100")
	return fmt.Sprintf("%s/r/%s/search.rss?%s", c.baseURL, url.PathEscape(community), query.Encode())
}

// FetchFeed downloads the search feed document
func (c *RedditClient) FetchFeed(ctx context.Context, community, keyword string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	feedURL := c.SearchURL(community, keyword)
	slog.Info("Requesting search feed", "url", feedURL)

	res, err := c.get(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch search feed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	slog.Debug("Search feed response", "status", res.StatusCode)
	if res.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(res.Body, 500))
		slog.Error("Search feed request failed", "status", res.StatusCode, "body", string(excerpt))
		return nil, &FeedStatusError{URL: feedURL, StatusCode: res.StatusCode, Body: string(excerpt)}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read search feed: %w", err)
	}
	return body, nil
}

// FetchEngagement retrieves score and comment count from <permalink>.json.
// A 429 answer is reported as ErrRateLimited.
func (c *RedditClient) FetchEngagement(ctx context.Context, permalink string) (Engagement, error) {
	res, err := c.get(ctx, c.baseURL+permalink+".json")
	if err != nil {
		return Engagement{}, &LookupError{Permalink: permalink, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusTooManyRequests {
		return Engagement{}, &LookupError{Permalink: permalink, StatusCode: res.StatusCode, Err: ErrRateLimited}
	}
	if res.StatusCode != http.StatusOK {
		return Engagement{}, &LookupError{Permalink: permalink, StatusCode: res.StatusCode}
	}

	post, err := decodeFirstPost(io.LimitReader(res.Body, maxPostBytes))
	if err != nil {
		return Engagement{}, &LookupError{Permalink: permalink, Err: err}
	}
	if post == nil {
		return Engagement{}, &LookupError{Permalink: permalink, Err: fmt.Errorf("no post in listing")}
	}

	return Engagement{Score: post.Score, CommentCount: post.NumComments}, nil
}

// FetchPost loads the full post from the detail endpoint
func (c *RedditClient) FetchPost(ctx context.Context, permalink string) (PostDetail, error) {
	p, err := ParsePermalink(permalink)
	if err != nil {
		return PostDetail{}, fmt.Errorf("%w: %q", ErrInvalidPermalink, permalink)
	}
	permalink = p.String()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	detailURL := c.detailBaseURL + permalink + ".json"
	res, err := c.get(ctx, detailURL)
	if err != nil {
		return PostDetail{}, fmt.Errorf("failed to load post: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return PostDetail{}, &FeedStatusError{URL: detailURL, StatusCode: res.StatusCode}
	}

	post, err := decodeFirstPost(io.LimitReader(res.Body, maxPostBytes))
	if err != nil {
		return PostDetail{}, fmt.Errorf("failed to load post: %w", err)
	}

	detail := PostDetail{Permalink: permalink}
	if post == nil {
		return detail, nil
	}
	detail.Title = post.Title
	detail.Community = post.Subreddit
	detail.Body = post.Selftext
	if detail.Body == "" && post.SelftextHTML != "" {
		md, err := c.mdConverter.ConvertString(html.UnescapeString(post.SelftextHTML))
		if err != nil {
			slog.Warn("Failed to convert post HTML to markdown", "error", err, "permalink", permalink)
		} else {
			detail.Body = strings.TrimSpace(md)
		}
	}
	return detail, nil
}

func (c *RedditClient) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// Accept-Encoding is left to the transport so gzip bodies are decoded for us
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	return c.client.Do(req)
}

// decodeFirstPost returns data.children[0].data of the first listing, or nil when there is none
func decodeFirstPost(r io.Reader) (*redditPost, error) {
	var listings []redditListing
	if err := json.NewDecoder(r).Decode(&listings); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if len(listings) == 0 || len(listings[0].Data.Children) == 0 {
		return nil, nil
	}
	return &listings[0].Data.Children[0].Data, nil
}
