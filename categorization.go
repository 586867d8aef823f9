package main

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// flairPattern matches a leading "[Tag]" or "(Tag)" in a post title
var flairPattern = regexp.MustCompile(`^\s*[\[(]([^\])]{1,30})[\])]`)

// categorizeContent returns labels derived from the title and, for non-post links, the linked domain
func categorizeContent(item ContentItem) []string {
	var categories []string

	if item.Permalink == "" && item.SourceURL != "" {
		if u, err := url.Parse(item.SourceURL); err == nil && u.Hostname() != "" {
			categories = append(categories, strings.TrimPrefix(u.Hostname(), "www."))
		}
	}

	if m := flairPattern.FindStringSubmatch(item.Title); len(m) > 1 {
		categories = append(categories, strings.TrimSpace(m[1]))
	}

	titleLower := strings.ToLower(item.Title)
	switch {
	case strings.HasSuffix(strings.TrimSpace(titleLower), "?"):
		categories = append(categories, "Question")
	case strings.Contains(titleLower, "i built") || strings.Contains(titleLower, "i made") || strings.Contains(titleLower, "launched"):
		categories = append(categories, "Showcase")
	case strings.Contains(titleLower, "frustrat") || strings.Contains(titleLower, "struggl") || strings.Contains(titleLower, "hate"):
		categories = append(categories, "Pain Point")
	}

	return categories
}

// categorizeByScore returns a category label based on score
func categorizeByScore(score int) string {
	switch {
	case score >= 1000:
		return "Viral 1000+"
	case score >= 500:
		return "Hot 500+"
	case score >= 100:
		return "High Score 100+"
	case score >= 20:
		return "Popular 20+"
	default:
		return "Rising"
	}
}

// engagementLabel describes discussion intensity from the comment to score ratio
func engagementLabel(score, comments int) string {
	if score <= 0 {
		return ""
	}
	ratio := float64(comments) / float64(score)
	switch {
	case ratio > 0.5:
		return "🔥 High engagement"
	case ratio > 0.3:
		return "💬 Good discussion"
	default:
		return ""
	}
}

// calculatePostAge returns a human-readable age, or "" when the creation time is unknown
func calculatePostAge(createdUTC int64, now time.Time) string {
	if createdUTC <= 0 {
		return ""
	}
	diff := now.Sub(time.Unix(createdUTC, 0))

	switch {
	case diff < time.Hour:
		minutes := int(diff.Minutes())
		if minutes < 1 {
			return "just now"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		return fmt.Sprintf("%d days ago", days)
	default:
		weeks := int(diff.Hours() / (24 * 7))
		return fmt.Sprintf("%d weeks ago", weeks)
	}
}
