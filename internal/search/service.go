package search

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts Searcher
	log   logrus.FieldLogger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts Searcher, log logrus.FieldLogger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log.WithField("component", "search")}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
// Failures yield an empty response rather than an error.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			filtered := filterVisible(nonNil(results), q.MemberOf)
			return Response{Results: filtered, Total: total - (len(results) - len(filtered)), Query: q.Text}
		}
		s.log.WithError(err).Warn("meilisearch error, falling back to pgfts")
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.WithError(err).Error("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: filterVisible(nonNil(results), q.MemberOf), Total: total, Query: q.Text}
}

// The Index and Delete methods are fire-and-forget.

func (s *Service) IndexPaper(r PaperRecord) {
	s.async("paper", r.ID, func() error { return s.meili.IndexPapers([]PaperRecord{r}) })
}

func (s *Service) IndexGroup(r GroupRecord) {
	r.GroupID = r.ID
	s.async("group", r.ID, func() error { return s.meili.IndexGroups([]GroupRecord{r}) })
}

func (s *Service) IndexDiscussion(r DiscussionRecord) {
	s.async("discussion", r.ID, func() error { return s.meili.IndexDiscussions([]DiscussionRecord{r}) })
}

func (s *Service) Delete(rtyp ResultType, id string) {
	s.async(string(rtyp), id, func() error { return s.meili.Delete(rtyp, id) })
}

func (s *Service) async(kind, id string, fn func() error) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := fn(); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"kind": kind, "id": id}).Warn("search index update failed")
		}
	}()
}

// ReindexAll pushes every record to Meilisearch, one index per goroutine.
func (s *Service) ReindexAll(ctx context.Context, records Records) error {
	if !s.meiliReady() {
		return nil
	}
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return s.meili.IndexPapers(records.Papers) })
	g.Go(func() error { return s.meili.IndexGroups(records.Groups) })
	g.Go(func() error { return s.meili.IndexDiscussions(records.Discussions) })
	return g.Wait()
}

// ReindexAllFromPG reindexes everything stored in PostgreSQL.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	pg, ok := s.pgfts.(*PgFTS)
	if !s.meiliReady() || !ok {
		return
	}
	records, err := pg.LoadAllRecords(ctx)
	if err != nil {
		s.log.WithError(err).Warn("reindex load failed")
		return
	}
	if err := s.ReindexAll(ctx, records); err != nil {
		s.log.WithError(err).Warn("reindex failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"papers":      len(records.Papers),
		"groups":      len(records.Groups),
		"discussions": len(records.Discussions),
	}).Info("search reindex complete")
}

// Engine names the backend currently answering queries.
func (s *Service) Engine() string {
	if s.meiliReady() {
		return "meilisearch"
	}
	return "postgres"
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

func filterVisible(results []Result, memberOf []string) []Result {
	set := memberSet(memberOf)
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if visible(result, set) {
			filtered = append(filtered, result)
		}
	}
	return filtered
}
