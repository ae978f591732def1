package updates

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// FeedSource pulls the latest update from an RSS/Atom feed.
type FeedSource struct {
	feedURL string
	parser  *gofeed.Parser
}

// NewFeedSource returns a source backed by the feed at feedURL.
func NewFeedSource(feedURL string) *FeedSource {
	return &FeedSource{
		feedURL: feedURL,
		parser:  gofeed.NewParser(),
	}
}

// Latest fetches the feed and returns its newest item, or nil if the feed
// has no items.
func (s *FeedSource) Latest(ctx context.Context) (*Item, error) {
	feed, err := s.parser.ParseURLWithContext(s.feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	var latest *Item
	for _, fi := range feed.Items {
		item := feedItem(fi)
		if item.Slug == "" || item.Title == "" {
			continue
		}
		if latest == nil || item.Date.After(latest.Date) {
			latest = item
		}
	}

	return latest, nil
}

func feedItem(fi *gofeed.Item) *Item {
	item := &Item{
		Title:   fi.Title,
		Preview: stripHTML(fi.Description),
		Slug:    slugFromLink(fi.Link),
	}
	if item.Slug == "" {
		item.Slug = fi.GUID
	}

	switch {
	case fi.PublishedParsed != nil:
		item.Date = *fi.PublishedParsed
	case fi.UpdatedParsed != nil:
		item.Date = *fi.UpdatedParsed
	default:
		item.Date = time.Now()
	}

	return item
}

// slugFromLink takes the last path segment of the item link.
func slugFromLink(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	seg := path.Base(strings.TrimSuffix(u.Path, "/"))
	if seg == "." || seg == "/" {
		return ""
	}
	return seg
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripHTML(input string) string {
	text := tagPattern.ReplaceAllString(input, "")
	return strings.Join(strings.Fields(text), " ")
}
