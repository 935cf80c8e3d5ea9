package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const groupSelect = `
	SELECT g.id, g.name, g.description, g.category, g.tags, g.is_private, g.owner_id,
		COALESCE(u.name, ''),
		(SELECT COUNT(*) FROM group_members gm WHERE gm.group_id = g.id),
		g.created_at, g.updated_at
	FROM groups g
	LEFT JOIN users u ON u.id = g.owner_id`

func scanGroup(row rowScanner) (Group, error) {
	var group Group
	var tags []byte
	if err := row.Scan(
		&group.ID, &group.Name, &group.Description, &group.Category, &tags, &group.IsPrivate,
		&group.OwnerID, &group.OwnerName, &group.MemberCount, &group.CreatedAt, &group.UpdatedAt,
	); err != nil {
		return Group{}, err
	}
	list, err := decodeList(tags)
	if err != nil {
		return Group{}, err
	}
	group.Tags = list
	return group, nil
}

// CreateGroup inserts the group and its owner membership atomically.
func (s *PostgresStore) CreateGroup(ctx context.Context, group Group) error {
	tags, err := encodeList(group.Tags)
	if err != nil {
		return err
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO groups (id, name, description, category, tags, is_private, owner_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, group.ID, group.Name, group.Description, group.Category, tags, group.IsPrivate, group.OwnerID); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, 'owner')
		`, group.ID, group.OwnerID); err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetGroup(ctx context.Context, id string) (Group, error) {
	return scanGroup(s.db.QueryRowContext(ctx, groupSelect+` WHERE g.id=$1`, id))
}

func (s *PostgresStore) ListGroups(ctx context.Context, filter GroupFilter) ([]Group, int, error) {
	args := []any{filter.ViewerID}
	where := `WHERE (NOT g.is_private OR EXISTS (
		SELECT 1 FROM group_members m WHERE m.group_id = g.id AND m.user_id = $1))`
	if filter.MemberOnly {
		where = `WHERE EXISTS (SELECT 1 FROM group_members m WHERE m.group_id = g.id AND m.user_id = $1)`
	}
	if filter.Search != "" {
		args = append(args, likePattern(filter.Search))
		where += fmt.Sprintf(` AND (g.name ILIKE $%d OR g.description ILIKE $%d)`, len(args), len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where += fmt.Sprintf(` AND g.category = $%d`, len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM groups g `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count groups: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`%s %s ORDER BY g.created_at DESC, g.id LIMIT $%d OFFSET $%d`,
		groupSelect, where, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]Group, 0)
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, total, rows.Err()
}

func (s *PostgresStore) UpdateGroup(ctx context.Context, group Group) error {
	tags, err := encodeList(group.Tags)
	if err != nil {
		return err
	}
	return requireAffected(s.db.ExecContext(ctx, `
		UPDATE groups
		SET name=$2, description=$3, category=$4, tags=$5, is_private=$6, updated_at=NOW()
		WHERE id=$1
	`, group.ID, group.Name, group.Description, group.Category, tags, group.IsPrivate))
}

// DeleteGroup removes the group; memberships, invitations, papers and
// discussions go with it through ON DELETE CASCADE.
func (s *PostgresStore) DeleteGroup(ctx context.Context, id string) error {
	return requireAffected(s.db.ExecContext(ctx, `DELETE FROM groups WHERE id=$1`, id))
}

// GetMemberRole returns "" when the user is not a member.
func (s *PostgresStore) GetMemberRole(ctx context.Context, groupID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read member role: %w", err)
	}
	return role, nil
}

// AddMember is idempotent: joining twice keeps the existing role.
func (s *PostgresStore) AddMember(ctx context.Context, groupID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, groupID, userID, role)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, groupID, userID, role string) error {
	return requireAffected(s.db.ExecContext(ctx,
		`UPDATE group_members SET role=$3 WHERE group_id=$1 AND user_id=$2`, groupID, userID, role))
}

func (s *PostgresStore) RemoveMember(ctx context.Context, groupID, userID string) error {
	return requireAffected(s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID))
}

func (s *PostgresStore) ListMembers(ctx context.Context, groupID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.group_id, m.user_id, m.role, u.name, u.email, u.institution, m.joined_at
		FROM group_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id=$1
		ORDER BY CASE m.role WHEN 'owner' THEN 0 WHEN 'admin' THEN 1 ELSE 2 END, m.joined_at
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]Member, 0)
	for rows.Next() {
		var member Member
		if err := rows.Scan(&member.GroupID, &member.UserID, &member.Role, &member.Name, &member.Email, &member.Institution, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// MemberGroupIDs lists the groups a user belongs to.
func (s *PostgresStore) MemberGroupIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id FROM group_members WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list member groups: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member group: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
