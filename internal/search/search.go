// Package search indexes papers, groups and discussions. Meilisearch is the
// primary engine; PostgreSQL full-text search answers whenever Meilisearch is
// unavailable.
package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPaper      ResultType = "paper"
	ResultGroup      ResultType = "group"
	ResultDiscussion ResultType = "discussion"
)

// ParseType maps the request's type parameter; ok is false for unknown
// values. The empty string searches every type.
func ParseType(raw string) (ResultType, bool) {
	switch raw {
	case "", "all":
		return "", true
	case "papers", "paper":
		return ResultPaper, true
	case "groups", "group":
		return ResultGroup, true
	case "discussions", "discussion":
		return ResultDiscussion, true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	GroupID string     `json:"groupId"`
	Private bool       `json:"-"`
}

// Query describes a search request. MemberOf lists the groups whose private
// content the caller may see.
type Query struct {
	Text     string
	Type     ResultType
	MemberOf []string
	Limit    int
	Offset   int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

type PaperRecord struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	Keywords []string `json:"keywords"`
	Authors  []string `json:"authors"`
	GroupID  string   `json:"groupId"`
	Private  bool     `json:"private"`
}

type GroupRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	GroupID     string   `json:"groupId"`
	Private     bool     `json:"private"`
}

type DiscussionRecord struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
	GroupID string   `json:"groupId"`
	Private bool     `json:"private"`
}

// visible reports whether a result may be shown to a caller who belongs to
// the given groups.
func visible(r Result, memberOf map[string]struct{}) bool {
	if !r.Private {
		return true
	}
	_, ok := memberOf[r.GroupID]
	return ok
}

func memberSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
