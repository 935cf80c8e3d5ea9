package store

import (
	"context"
	"fmt"
)

const paperSelect = `
	SELECT p.id, p.group_id, p.title, p.abstract, p.authors, p.keywords, p.file_key, p.file_name,
		p.content_type, p.file_size, p.uploaded_by, COALESCE(u.name, ''), p.downloads, p.created_at, p.updated_at
	FROM papers p
	LEFT JOIN users u ON u.id = p.uploaded_by`

func scanPaper(row rowScanner) (Paper, error) {
	var paper Paper
	var authors, keywords []byte
	if err := row.Scan(
		&paper.ID, &paper.GroupID, &paper.Title, &paper.Abstract, &authors, &keywords, &paper.FileKey,
		&paper.FileName, &paper.ContentType, &paper.FileSize, &paper.UploadedBy, &paper.UploaderName,
		&paper.Downloads, &paper.CreatedAt, &paper.UpdatedAt,
	); err != nil {
		return Paper{}, err
	}
	var err error
	if paper.Authors, err = decodeList(authors); err != nil {
		return Paper{}, err
	}
	if paper.Keywords, err = decodeList(keywords); err != nil {
		return Paper{}, err
	}
	return paper, nil
}

func (s *PostgresStore) CreatePaper(ctx context.Context, paper Paper) error {
	authors, err := encodeList(paper.Authors)
	if err != nil {
		return err
	}
	keywords, err := encodeList(paper.Keywords)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO papers (id, group_id, title, abstract, authors, keywords, file_key, file_name, content_type, file_size, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, paper.ID, paper.GroupID, paper.Title, paper.Abstract, authors, keywords, paper.FileKey, paper.FileName,
		paper.ContentType, paper.FileSize, paper.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert paper: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPaper(ctx context.Context, id string) (Paper, error) {
	return scanPaper(s.db.QueryRowContext(ctx, paperSelect+` WHERE p.id=$1`, id))
}

func (s *PostgresStore) ListPapers(ctx context.Context, filter PaperFilter) ([]Paper, int, error) {
	args := []any{filter.GroupID}
	where := `WHERE p.group_id=$1`
	if filter.Search != "" {
		args = append(args, likePattern(filter.Search))
		where += ` AND (p.title ILIKE $2 OR p.abstract ILIKE $2 OR p.keywords::text ILIKE $2)`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers p `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count papers: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`%s %s ORDER BY p.created_at DESC, p.id LIMIT $%d OFFSET $%d`,
		paperSelect, where, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()

	papers := make([]Paper, 0)
	for rows.Next() {
		paper, err := scanPaper(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan paper: %w", err)
		}
		papers = append(papers, paper)
	}
	return papers, total, rows.Err()
}

// ListGroupFileKeys returns the blob keys of every paper in a group.
func (s *PostgresStore) ListGroupFileKeys(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_key FROM papers WHERE group_id=$1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list paper files: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan paper file: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdatePaper(ctx context.Context, paper Paper) error {
	authors, err := encodeList(paper.Authors)
	if err != nil {
		return err
	}
	keywords, err := encodeList(paper.Keywords)
	if err != nil {
		return err
	}
	return requireAffected(s.db.ExecContext(ctx, `
		UPDATE papers SET title=$2, abstract=$3, authors=$4, keywords=$5, updated_at=NOW()
		WHERE id=$1
	`, paper.ID, paper.Title, paper.Abstract, authors, keywords))
}

func (s *PostgresStore) DeletePaper(ctx context.Context, id string) error {
	return requireAffected(s.db.ExecContext(ctx, `DELETE FROM papers WHERE id=$1`, id))
}

func (s *PostgresStore) IncrementDownloads(ctx context.Context, id string) error {
	return requireAffected(s.db.ExecContext(ctx, `UPDATE papers SET downloads = downloads + 1 WHERE id=$1`, id))
}
