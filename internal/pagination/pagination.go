// Package pagination holds the page/limit contract shared by every listing
// endpoint.
package pagination

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPage = 1
	MaxLimit    = 100
	// MaxOffset bounds (page-1)*limit so the offset fits a Postgres
	// integer and never overflows.
	MaxOffset = math.MaxInt32
)

// Meta is the pagination block returned next to a page of results.
type Meta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// Params is a validated page request.
type Params struct {
	Page  int
	Limit int
}

// Offset is the number of records skipped before this page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Meta describes this page for a source with total records.
func (p Params) Meta(total int) Meta {
	return Paginate(total, p.Page, p.Limit)
}

// Paginate computes the page count for total records. limit must be at
// least 1; Parse guarantees that for request input.
func Paginate(total, page, limit int) Meta {
	pages := 0
	if total > 0 {
		pages = (total + limit - 1) / limit
	}
	return Meta{Page: page, Limit: limit, Total: total, Pages: pages}
}

// Parse reads page and limit from query values. Missing values take the
// defaults; malformed or out of range values are reported, one message per
// field.
func Parse(query url.Values, defaultLimit int) (Params, []string) {
	params := Params{Page: DefaultPage, Limit: defaultLimit}
	var problems []string

	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			problems = append(problems, "page must be a positive integer")
		} else {
			params.Page = page
		}
	}

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxLimit {
			problems = append(problems, "limit must be an integer between 1 and 100")
		} else {
			params.Limit = limit
		}
	}

	if len(problems) == 0 && params.Limit > 0 && params.Page-1 > MaxOffset/params.Limit {
		problems = append(problems, "page is out of range")
	}

	return params, problems
}
