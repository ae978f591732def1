// Package updates locates the most recently published site update, which
// drives the content of each newsletter issue.
package updates

import (
	"context"
	"time"
)

// Item is one published update.
type Item struct {
	Slug    string    `json:"slug"`
	Title   string    `json:"title"`
	Preview string    `json:"preview"`
	Date    time.Time `json:"-"`
}

// Source yields the latest published update. A nil Item with a nil error
// means no update has been published yet.
type Source interface {
	Latest(ctx context.Context) (*Item, error)
}

// parseDate accepts the two date shapes updates are published with.
func parseDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}
