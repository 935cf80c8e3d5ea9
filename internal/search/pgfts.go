package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

type ftsQuery struct {
	count string
	data  string
	args  []any
}

// buildQuery assembles one UNION ALL over the requested tables. Every branch
// joins groups so private content is limited to q.MemberOf.
func buildQuery(q Query) (ftsQuery, bool) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	visibility := "NOT g.is_private"
	if len(q.MemberOf) > 0 {
		placeholders := make([]string, len(q.MemberOf))
		for i, id := range q.MemberOf {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		visibility = fmt.Sprintf("(NOT g.is_private OR g.id IN (%s))", strings.Join(placeholders, ", "))
	}

	var subQueries []string
	if q.Type == "" || q.Type == ResultPaper {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'paper'::text AS type, p.id, p.title,
				ts_headline('english', p.abstract, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.group_id, g.is_private,
				ts_rank(p.fts, %[1]s) AS rank
			FROM papers p
			JOIN groups g ON g.id = p.group_id
			WHERE p.fts @@ %[1]s AND %[2]s`, tsQuery, visibility))
	}
	if q.Type == "" || q.Type == ResultGroup {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'group'::text AS type, g.id, g.name AS title,
				ts_headline('english', g.description, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				g.id AS group_id, g.is_private,
				ts_rank(g.fts, %[1]s) AS rank
			FROM groups g
			WHERE g.fts @@ %[1]s AND %[2]s`, tsQuery, visibility))
	}
	if q.Type == "" || q.Type == ResultDiscussion {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'discussion'::text AS type, d.id, d.title,
				ts_headline('english', d.content, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.group_id, g.is_private,
				ts_rank(d.fts, %[1]s) AS rank
			FROM discussions d
			JOIN groups g ON g.id = d.group_id
			WHERE d.fts @@ %[1]s AND %[2]s`, tsQuery, visibility))
	}
	if len(subQueries) == 0 {
		return ftsQuery{}, false
	}

	union := strings.Join(subQueries, " UNION ALL ")
	return ftsQuery{
		count: fmt.Sprintf("SELECT count(*) FROM (%s) sub", union),
		data: fmt.Sprintf(`SELECT type, id, title, snippet, group_id, is_private
			FROM (%s) sub
			ORDER BY rank DESC, id
			LIMIT %d OFFSET %d`, union, limit, offset),
		args: args,
	}, true
}

// Search ranks with ts_rank and highlights with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	query, ok := buildQuery(q)
	if !ok {
		return nil, 0, nil
	}

	var total int
	if err := p.db.QueryRowContext(ctx, query.count, query.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query.data, query.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.GroupID, &r.Private); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// Records is everything a full reindex pushes to Meilisearch.
type Records struct {
	Papers      []PaperRecord
	Groups      []GroupRecord
	Discussions []DiscussionRecord
}

// LoadAllRecords reads the three tables concurrently.
func (p *PgFTS) LoadAllRecords(ctx context.Context) (Records, error) {
	var records Records
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := p.db.QueryContext(ctx, `
			SELECT p.id, p.title, p.abstract, p.keywords, p.authors, p.group_id, g.is_private
			FROM papers p JOIN groups g ON g.id = p.group_id
		`)
		if err != nil {
			return fmt.Errorf("load papers: %w", err)
		}
		defer rows.Close()
		out := make([]PaperRecord, 0)
		for rows.Next() {
			var r PaperRecord
			var keywords, authors []byte
			if err := rows.Scan(&r.ID, &r.Title, &r.Abstract, &keywords, &authors, &r.GroupID, &r.Private); err != nil {
				return fmt.Errorf("scan paper: %w", err)
			}
			r.Keywords = decodeStrings(keywords)
			r.Authors = decodeStrings(authors)
			out = append(out, r)
		}
		records.Papers = out
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := p.db.QueryContext(ctx, `SELECT id, name, description, category, tags, is_private FROM groups`)
		if err != nil {
			return fmt.Errorf("load groups: %w", err)
		}
		defer rows.Close()
		out := make([]GroupRecord, 0)
		for rows.Next() {
			var r GroupRecord
			var tags []byte
			if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Category, &tags, &r.Private); err != nil {
				return fmt.Errorf("scan group: %w", err)
			}
			r.GroupID = r.ID
			r.Tags = decodeStrings(tags)
			out = append(out, r)
		}
		records.Groups = out
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := p.db.QueryContext(ctx, `
			SELECT d.id, d.title, d.content, d.tags, d.group_id, g.is_private
			FROM discussions d JOIN groups g ON g.id = d.group_id
		`)
		if err != nil {
			return fmt.Errorf("load discussions: %w", err)
		}
		defer rows.Close()
		out := make([]DiscussionRecord, 0)
		for rows.Next() {
			var r DiscussionRecord
			var tags []byte
			if err := rows.Scan(&r.ID, &r.Title, &r.Content, &tags, &r.GroupID, &r.Private); err != nil {
				return fmt.Errorf("scan discussion: %w", err)
			}
			r.Tags = decodeStrings(tags)
			out = append(out, r)
		}
		records.Discussions = out
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return Records{}, err
	}
	return records, nil
}

func decodeStrings(raw []byte) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
