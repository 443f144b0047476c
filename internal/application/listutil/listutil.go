// Package listutil parses list query parameters (?q, ?sort, ?dir, ?page,
// ?per_page) and slices in-memory projections into pages.
package listutil

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// DefaultPerPage is the page size when ?per_page is absent or not allowed.
const DefaultPerPage = 50

// PerPageOptions are the allowed page sizes.
var PerPageOptions = []int{10, 20, 50, 100, 200}

// Params are the list parameters of one request.
type Params struct {
	Search  string // lower-cased ?q
	Sort    string // one of the allowed columns, or "" for the natural order
	Desc    bool
	Page    int // 1-indexed
	PerPage int
}

// Parse reads list parameters from q.
// PRE: none
// POST: Page >= 1; PerPage is one of PerPageOptions; Sort is allowed or empty
func Parse(q url.Values, sortColumns []string) Params {
	p := Params{
		Search:  strings.ToLower(strings.TrimSpace(q.Get("q"))),
		Page:    1,
		PerPage: DefaultPerPage,
	}
	if col := q.Get("sort"); slices.Contains(sortColumns, col) {
		p.Sort = col
	}
	p.Desc = q.Get("dir") == "desc"
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 1 {
		p.Page = n
	}
	if n, err := strconv.Atoi(q.Get("per_page")); err == nil && slices.Contains(PerPageOptions, n) {
		p.PerPage = n
	}
	return p
}

// Matches reports whether any field contains the search term.
func (p Params) Matches(fields ...string) bool {
	if p.Search == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), p.Search) {
			return true
		}
	}
	return false
}

// PageInfo is the pagination metadata returned with a page.
type PageInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPageInfo computes pagination metadata.
// PRE: total >= 0
// POST: TotalPages >= 1; Page is clamped into [1, TotalPages]
func NewPageInfo(page, perPage, total int) PageInfo {
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	totalPages := max((total+perPage-1)/perPage, 1)
	return PageInfo{
		Page:       min(max(page, 1), totalPages),
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	}
}

// Offset returns the index of the first item on the page.
func (p PageInfo) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Paginate returns the items on the requested page and its metadata.
// POST: len(page) <= p.PerPage; page is empty only when items is
func Paginate[T any](items []T, p Params) ([]T, PageInfo) {
	info := NewPageInfo(p.Page, p.PerPage, len(items))
	start := info.Offset()
	end := min(start+info.PerPage, len(items))
	return items[start:end], info
}
