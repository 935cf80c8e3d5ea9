package store

import (
	"context"
	"fmt"
)

const discussionSelect = `
	SELECT d.id, d.group_id, d.title, d.content, d.tags, d.author_id, COALESCE(u.name, ''),
		d.is_pinned, d.is_closed,
		(SELECT COUNT(*) FROM discussion_replies r WHERE r.discussion_id = d.id),
		d.last_activity_at, d.created_at, d.updated_at
	FROM discussions d
	LEFT JOIN users u ON u.id = d.author_id`

func scanDiscussion(row rowScanner) (Discussion, error) {
	var discussion Discussion
	var tags []byte
	if err := row.Scan(
		&discussion.ID, &discussion.GroupID, &discussion.Title, &discussion.Content, &tags, &discussion.AuthorID,
		&discussion.AuthorName, &discussion.IsPinned, &discussion.IsClosed, &discussion.ReplyCount,
		&discussion.LastActivityAt, &discussion.CreatedAt, &discussion.UpdatedAt,
	); err != nil {
		return Discussion{}, err
	}
	list, err := decodeList(tags)
	if err != nil {
		return Discussion{}, err
	}
	discussion.Tags = list
	return discussion, nil
}

func (s *PostgresStore) CreateDiscussion(ctx context.Context, discussion Discussion) error {
	tags, err := encodeList(discussion.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO discussions (id, group_id, title, content, tags, author_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, discussion.ID, discussion.GroupID, discussion.Title, discussion.Content, tags, discussion.AuthorID)
	if err != nil {
		return fmt.Errorf("insert discussion: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDiscussion(ctx context.Context, id string) (Discussion, error) {
	return scanDiscussion(s.db.QueryRowContext(ctx, discussionSelect+` WHERE d.id=$1`, id))
}

// ListDiscussions orders pinned discussions first, then newest first.
func (s *PostgresStore) ListDiscussions(ctx context.Context, groupID string, limit, offset int) ([]Discussion, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM discussions WHERE group_id=$1`, groupID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count discussions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, discussionSelect+`
		WHERE d.group_id=$1
		ORDER BY d.is_pinned DESC, d.created_at DESC, d.id
		LIMIT $2 OFFSET $3
	`, groupID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list discussions: %w", err)
	}
	defer rows.Close()

	discussions := make([]Discussion, 0)
	for rows.Next() {
		discussion, err := scanDiscussion(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan discussion: %w", err)
		}
		discussions = append(discussions, discussion)
	}
	return discussions, total, rows.Err()
}

func (s *PostgresStore) UpdateDiscussion(ctx context.Context, discussion Discussion) error {
	tags, err := encodeList(discussion.Tags)
	if err != nil {
		return err
	}
	return requireAffected(s.db.ExecContext(ctx, `
		UPDATE discussions
		SET title=$2, content=$3, tags=$4, is_pinned=$5, is_closed=$6, updated_at=NOW()
		WHERE id=$1
	`, discussion.ID, discussion.Title, discussion.Content, tags, discussion.IsPinned, discussion.IsClosed))
}

// DeleteDiscussion removes the discussion and, by cascade, its replies.
func (s *PostgresStore) DeleteDiscussion(ctx context.Context, id string) error {
	return requireAffected(s.db.ExecContext(ctx, `DELETE FROM discussions WHERE id=$1`, id))
}

func (s *PostgresStore) TouchDiscussion(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE discussions SET last_activity_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("touch discussion: %w", err)
	}
	return nil
}
