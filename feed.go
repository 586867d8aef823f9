package main

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const previewLength = 280

// ParseFeed turns a search feed document into content items for the given community.
// Entries without a title or link are skipped; a malformed document yields a *ParseError.
func ParseFeed(data []byte, community string) ([]ContentItem, error) {
	if err := checkWellFormed(data); err != nil {
		return nil, &ParseError{Err: err}
	}
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	slog.Debug("Parsed feed", "entries", len(parsed.Items), "feedType", parsed.FeedType)

	items := make([]ContentItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		link := entryLink(entry)
		if entry.Title == "" || link == "" {
			slog.Debug("Skipping feed entry without title or link", "title", entry.Title, "link", link)
			continue
		}

		item := ContentItem{
			Title:     entry.Title,
			Author:    entryAuthor(entry),
			Community: community,
			SourceURL: link,
			Preview:   extractPreview(entry.Content),
		}

		// Links that are not post paths are kept with empty permalink and ID
		if p, err := ParsePermalink(link); err == nil {
			item.Permalink = p.String()
			item.ID = p.PostID()
		} else {
			slog.Debug("Feed entry link is not a post permalink", "link", link, "error", err)
		}

		items = append(items, item)
	}

	return items, nil
}

// checkWellFormed walks the document with a strict XML decoder.
// gofeed tolerates bare ampersands, unknown entities and mismatched tags.
func checkWellFormed(data []byte) error {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = true
	for {
		_, err := d.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func entryLink(entry *gofeed.Item) string {
	if link := strings.TrimSpace(entry.Link); link != "" {
		return link
	}
	for _, l := range entry.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}

func entryAuthor(entry *gofeed.Item) string {
	for _, a := range entry.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	return "unknown"
}

// extractPreview returns the plain text of the self-post markdown block in an entry's HTML content,
// or of the whole content when there is no such block
func extractPreview(content string) string {
	if content == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	sel := doc.Find("div.md")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	text := strings.Join(strings.Fields(sel.Text()), " ")
	return truncateString(text, previewLength)
}

// truncateString truncates a string to a maximum length in runes
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(runes[:maxLen-3]) + "..."
}
