package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"
)

const (
	idxPapers      = "researchhub_papers"
	idxGroups      = "researchhub_groups"
	idxDiscussions = "researchhub_discussions"
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Searcher via Meilisearch and keeps a background health
// check running until Close.
type Meili struct {
	client  meili.ServiceManager
	log     logrus.FieldLogger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. A failed
// first health check leaves the client unhealthy; the health loop retries.
func NewMeili(url, apiKey string, log logrus.FieldLogger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log.WithField("component", "meilisearch"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.WithError(err).WithField("url", url).Warn("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{uid: idxPapers, filterable: []string{"groupId", "private"}, searchable: []string{"title", "abstract", "keywords", "authors"}},
		{uid: idxGroups, filterable: []string{"groupId", "private", "category"}, searchable: []string{"name", "description", "tags"}},
		{uid: idxDiscussions, filterable: []string{"groupId", "private"}, searchable: []string{"title", "content", "tags"}},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idx.uid, PrimaryKey: "id"}); err != nil {
			m.log.WithError(err).WithField("index", idx.uid).Debug("create index (may already exist)")
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.log.WithError(err).WithField("index", idx.uid).Warn("update filterable attributes")
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			m.log.WithError(err).WithField("index", idx.uid).Warn("update searchable attributes")
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// visibilityFilter limits hits to public groups plus the caller's groups.
func visibilityFilter(memberOf []string) string {
	if len(memberOf) == 0 {
		return "private = false"
	}
	quoted := make([]string, len(memberOf))
	for i, id := range memberOf {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf("private = false OR groupId IN [%s]", strings.Join(quoted, ", "))
}

// Search queries the selected indexes in one multi-search and concatenates
// the hits.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	targets := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxPapers, ResultPaper},
		{idxGroups, ResultGroup},
		{idxDiscussions, ResultDiscussion},
	}

	filter := visibilityFilter(q.MemberOf)
	var queries []*meili.SearchRequest
	for _, target := range targets {
		if q.Type != "" && q.Type != target.rtyp {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              target.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			Filter:                []string{filter},
		})
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxPapers:
		return ResultPaper
	case idxGroups:
		return ResultGroup
	case idxDiscussions:
		return ResultDiscussion
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.GroupID = decodeString(hit, "groupId")
	r.Private = decodeBool(hit, "private")

	switch rtyp {
	case ResultPaper:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "abstract"), decodeString(hit, "abstract"))
	case ResultGroup:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	case ResultDiscussion:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeBool(hit meili.Hit, key string) bool {
	raw, ok := hit[key]
	if !ok {
		return false
	}
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

// decodeFormattedString reads a highlighted string field. Array fields in
// _formatted are skipped.
func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) add(uid string, documents any) error {
	_, err := m.client.Index(uid).AddDocuments(documents, nil)
	return err
}

func (m *Meili) IndexPapers(papers []PaperRecord) error {
	if len(papers) == 0 {
		return nil
	}
	return m.add(idxPapers, papers)
}

func (m *Meili) IndexGroups(groups []GroupRecord) error {
	if len(groups) == 0 {
		return nil
	}
	return m.add(idxGroups, groups)
}

func (m *Meili) IndexDiscussions(discussions []DiscussionRecord) error {
	if len(discussions) == 0 {
		return nil
	}
	return m.add(idxDiscussions, discussions)
}

func (m *Meili) Delete(rtyp ResultType, id string) error {
	uid := ""
	switch rtyp {
	case ResultPaper:
		uid = idxPapers
	case ResultGroup:
		uid = idxGroups
	case ResultDiscussion:
		uid = idxDiscussions
	default:
		return fmt.Errorf("unknown result type %q", rtyp)
	}
	_, err := m.client.Index(uid).DeleteDocument(id, nil)
	return err
}
