package main

import (
	"errors"
	"net/url"
	"strings"
)

var errNotPostPath = errors.New("not a /r/{community}/comments/{id}/{slug}/ path")

// Permalink is the parsed form of /r/{community}/comments/{id}/{slug}/
type Permalink struct {
	Community string
	ID        string
	Slug      string
}

// String renders the canonical path form, always with a trailing slash
func (p Permalink) String() string {
	return "/r/" + p.Community + "/comments/" + p.ID + "/" + p.Slug + "/"
}

// PostID returns the post ID when it looks like a reddit base36 ID, else ""
func (p Permalink) PostID() string {
	if p.ID == "" {
		return ""
	}
	for _, r := range p.ID {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return p.ID
}

// ParsePermalink parses a full reddit URL or a bare path into its permalink parts.
// Any host is accepted; the path must be exactly the five post segments.
// Segments keep their percent-encoding so the canonical form stays URL-safe.
func ParsePermalink(link string) (Permalink, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return Permalink{}, err
	}

	path := strings.TrimSuffix(u.EscapedPath(), "/")
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) != 5 || segments[0] != "r" || segments[2] != "comments" {
		return Permalink{}, errNotPostPath
	}
	for _, s := range segments {
		if s == "" {
			return Permalink{}, errNotPostPath
		}
	}

	return Permalink{
		Community: segments[1],
		ID:        segments[3],
		Slug:      segments[4],
	}, nil
}

// inCommunity reports whether the permalink path belongs to the given community, case-insensitively
func inCommunity(permalink, community string) bool {
	return strings.Contains(strings.ToLower(permalink), "/r/"+strings.ToLower(community)+"/")
}
