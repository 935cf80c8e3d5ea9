package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// threadTable names the tables backing one kind of ThreadItem.
type threadTable struct {
	items     string
	container string
	likes     string
	likeKey   string
}

var (
	commentTable = threadTable{items: "paper_comments", container: "paper_id", likes: "comment_likes", likeKey: "comment_id"}
	replyTable   = threadTable{items: "discussion_replies", container: "discussion_id", likes: "reply_likes", likeKey: "reply_id"}
)

func (t threadTable) selectSQL() string {
	return fmt.Sprintf(`
		SELECT i.id, i.%[2]s, i.parent_id, i.author_id, COALESCE(u.name, ''), i.content,
			COALESCE((SELECT json_agg(l.user_id ORDER BY l.created_at, l.user_id) FROM %[3]s l WHERE l.%[4]s = i.id), '[]'::json),
			i.created_at, i.edited_at
		FROM %[1]s i
		LEFT JOIN users u ON u.id = i.author_id`, t.items, t.container, t.likes, t.likeKey)
}

func scanThreadItem(row rowScanner) (ThreadItem, error) {
	var item ThreadItem
	var parentID sql.NullString
	var likes []byte
	var editedAt sql.NullTime
	if err := row.Scan(&item.ID, &item.ContainerID, &parentID, &item.AuthorID, &item.AuthorName, &item.Content,
		&likes, &item.CreatedAt, &editedAt); err != nil {
		return ThreadItem{}, err
	}
	if parentID.Valid {
		id := parentID.String
		item.ParentID = &id
	}
	if editedAt.Valid {
		at := editedAt.Time
		item.EditedAt = &at
	}
	list, err := decodeList(likes)
	if err != nil {
		return ThreadItem{}, err
	}
	item.Likes = list
	return item, nil
}

func (s *PostgresStore) insertThreadItem(ctx context.Context, t threadTable, item ThreadItem) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, %s, parent_id, author_id, content, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		t.items, t.container)
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, query, item.ID, item.ContainerID, item.ParentID, item.AuthorID, item.Content, createdAt); err != nil {
		return fmt.Errorf("insert %s: %w", t.items, err)
	}
	return nil
}

func (s *PostgresStore) getThreadItem(ctx context.Context, t threadTable, containerID, id string) (ThreadItem, error) {
	query := t.selectSQL() + fmt.Sprintf(` WHERE i.id=$1 AND i.%s=$2`, t.container)
	return scanThreadItem(s.db.QueryRowContext(ctx, query, id, containerID))
}

// listThreadItems returns items in creation order. A limit <= 0 returns all.
func (s *PostgresStore) listThreadItems(ctx context.Context, t threadTable, containerID string, limit, offset int) ([]ThreadItem, int, error) {
	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s=$1`, t.items, t.container)
	if err := s.db.QueryRowContext(ctx, countQuery, containerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", t.items, err)
	}

	query := t.selectSQL() + fmt.Sprintf(` WHERE i.%s=$1 ORDER BY i.created_at, i.id`, t.container)
	args := []any{containerID}
	if limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", t.items, err)
	}
	defer rows.Close()

	items := make([]ThreadItem, 0)
	for rows.Next() {
		item, err := scanThreadItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan %s: %w", t.items, err)
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (s *PostgresStore) updateThreadItem(ctx context.Context, t threadTable, containerID, id, content string) (time.Time, error) {
	var editedAt time.Time
	query := fmt.Sprintf(`UPDATE %s SET content=$3, edited_at=NOW() WHERE id=$1 AND %s=$2 RETURNING edited_at`, t.items, t.container)
	if err := s.db.QueryRowContext(ctx, query, id, containerID, content).Scan(&editedAt); err != nil {
		return time.Time{}, err
	}
	return editedAt, nil
}

func (s *PostgresStore) deleteThreadItem(ctx context.Context, t threadTable, containerID, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id=$1 AND %s=$2`, t.items, t.container)
	return requireAffected(s.db.ExecContext(ctx, query, id, containerID))
}

// toggleLike adds the like when absent and removes it otherwise, then
// returns the resulting set.
func (s *PostgresStore) toggleLike(ctx context.Context, t threadTable, itemID, userID string) ([]string, error) {
	var likes []byte
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE %s=$1 AND user_id=$2`, t.likes, t.likeKey)
		result, err := tx.ExecContext(ctx, deleteQuery, itemID, userID)
		if err != nil {
			return fmt.Errorf("remove like: %w", err)
		}
		removed, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if removed == 0 {
			insertQuery := fmt.Sprintf(`INSERT INTO %s (%s, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, t.likes, t.likeKey)
			if _, err := tx.ExecContext(ctx, insertQuery, itemID, userID); err != nil {
				return fmt.Errorf("add like: %w", err)
			}
		}
		selectQuery := fmt.Sprintf(`SELECT COALESCE(json_agg(user_id ORDER BY created_at, user_id), '[]'::json) FROM %s WHERE %s=$1`, t.likes, t.likeKey)
		return tx.QueryRowContext(ctx, selectQuery, itemID).Scan(&likes)
	})
	if err != nil {
		return nil, err
	}
	return decodeList(likes)
}

func (s *PostgresStore) CreateComment(ctx context.Context, item ThreadItem) error {
	return s.insertThreadItem(ctx, commentTable, item)
}

func (s *PostgresStore) GetComment(ctx context.Context, paperID, id string) (ThreadItem, error) {
	return s.getThreadItem(ctx, commentTable, paperID, id)
}

func (s *PostgresStore) ListComments(ctx context.Context, paperID string) ([]ThreadItem, error) {
	items, _, err := s.listThreadItems(ctx, commentTable, paperID, 0, 0)
	return items, err
}

func (s *PostgresStore) UpdateComment(ctx context.Context, paperID, id, content string) (time.Time, error) {
	return s.updateThreadItem(ctx, commentTable, paperID, id, content)
}

func (s *PostgresStore) DeleteComment(ctx context.Context, paperID, id string) error {
	return s.deleteThreadItem(ctx, commentTable, paperID, id)
}

func (s *PostgresStore) ToggleCommentLike(ctx context.Context, commentID, userID string) ([]string, error) {
	return s.toggleLike(ctx, commentTable, commentID, userID)
}

func (s *PostgresStore) CreateReply(ctx context.Context, item ThreadItem) error {
	return s.insertThreadItem(ctx, replyTable, item)
}

func (s *PostgresStore) GetReply(ctx context.Context, discussionID, id string) (ThreadItem, error) {
	return s.getThreadItem(ctx, replyTable, discussionID, id)
}

func (s *PostgresStore) ListReplies(ctx context.Context, discussionID string, limit, offset int) ([]ThreadItem, int, error) {
	return s.listThreadItems(ctx, replyTable, discussionID, limit, offset)
}

func (s *PostgresStore) UpdateReply(ctx context.Context, discussionID, id, content string) (time.Time, error) {
	return s.updateThreadItem(ctx, replyTable, discussionID, id, content)
}

func (s *PostgresStore) DeleteReply(ctx context.Context, discussionID, id string) error {
	return s.deleteThreadItem(ctx, replyTable, discussionID, id)
}

func (s *PostgresStore) ToggleReplyLike(ctx context.Context, replyID, userID string) ([]string, error) {
	return s.toggleLike(ctx, replyTable, replyID, userID)
}
