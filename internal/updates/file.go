package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileSource reads updates from a JSON index file on disk. The file holds an
// array of update records ordered arbitrarily; the newest dated entry wins.
type FileSource struct {
	path string
}

// NewFileSource returns a source backed by the index file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type fileEntry struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Preview string `json:"preview"`
	Date    string `json:"date"`
}

// Latest returns the newest dated update in the index, or nil if the index
// is empty or holds no usable entries.
func (s *FileSource) Latest(ctx context.Context) (*Item, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read updates index: %w", err)
	}

	var entries []fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse updates index: %w", err)
	}

	var latest *Item
	for _, e := range entries {
		if e.Slug == "" || e.Title == "" {
			continue
		}
		date, ok := parseDate(e.Date)
		if !ok {
			continue
		}
		if latest == nil || date.After(latest.Date) {
			latest = &Item{
				Slug:    e.Slug,
				Title:   e.Title,
				Preview: e.Preview,
				Date:    date,
			}
		}
	}

	return latest, nil
}
