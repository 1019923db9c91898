package store

import (
	"strings"
	"time"

	"github.com/rbxbridge/relay/internal/model"
)

// Pagination limits.
const (
	DefaultPerPage = 50
	MaxPerPage     = 1000
)

// Filter holds the optional query predicates. All set predicates are ANDed
// together; within Tags a record matches if it carries any requested tag.
// After is an exclusive lower bound on the timestamp, Before an exclusive
// upper bound.
type Filter struct {
	Level    string
	Source   string
	Search   string
	Tags     []string
	ClientID string
	After    time.Time
	Before   time.Time
}

// ParseTagList splits a comma-separated tag parameter into a normalized
// slice, dropping empty items.
func ParseTagList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToLower(strings.TrimSpace(p)); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Pagination selects the result window. Page/PerPage take precedence over
// Offset/Limit when both are supplied; zero means unset.
type Pagination struct {
	Order   string // "asc" or "desc" (default)
	Page    int
	PerPage int
	Offset  int
	Limit   int
}

// QueryResult is one page of matching records plus pagination metadata.
// Total counts all records matching the predicates, before pagination.
type QueryResult struct {
	Entries    []model.EventRecord `json:"entries"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"per_page"`
	TotalPages int                 `json:"total_pages"`
	HasMore    bool                `json:"has_more"`
}

// Query evaluates the filter over a consistent snapshot and returns the
// requested page. Records are ordered by id (strictly decreasing unless
// Order is "asc"), so repeated queries without intervening writes return
// identical pages.
func (s *Store) Query(f Filter, p Pagination) QueryResult {
	level := model.NormalizeLevel(f.Level)

	s.mu.RLock()
	matched := make([]model.EventRecord, 0, s.count)
	for i := 0; i < s.count; i++ {
		rec := s.buf[(s.head+i)%s.maxEntries]
		if matches(&rec, &f, level) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	// matched is in ascending id order by construction.
	if p.Order != "asc" {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	perPage := p.PerPage
	if perPage <= 0 {
		perPage = p.Limit
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	offset := p.Offset
	if p.Page > 0 {
		offset = (p.Page - 1) * perPage
	}
	if offset < 0 {
		offset = 0
	}

	total := len(matched)
	totalPages := (total + perPage - 1) / perPage
	page := offset/perPage + 1

	start := offset
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return QueryResult{
		Entries:    matched[start:end],
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		HasMore:    page < totalPages,
	}
}

func matches(rec *model.EventRecord, f *Filter, level string) bool {
	if level != "" && rec.Level != level {
		return false
	}
	if f.Source != "" && !strings.Contains(strings.ToLower(rec.Source), strings.ToLower(f.Source)) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(rec.Message), strings.ToLower(f.Search)) {
		return false
	}
	if f.ClientID != "" && rec.ClientID != f.ClientID {
		return false
	}
	if !f.After.IsZero() && !rec.Timestamp.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !rec.Timestamp.Before(f.Before) {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, have := range rec.Tags {
				if strings.EqualFold(have, want) {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
