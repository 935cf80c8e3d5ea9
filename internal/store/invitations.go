package store

import (
	"context"
	"database/sql"
	"fmt"
)

const invitationSelect = `
	SELECT i.id, i.group_id, g.name, i.inviter_id, COALESCE(u.name, ''), i.invitee_email, i.invitee_id,
		i.status, i.message, i.expires_at, i.responded_at, i.created_at
	FROM invitations i
	JOIN groups g ON g.id = i.group_id
	LEFT JOIN users u ON u.id = i.inviter_id`

func scanInvitation(row rowScanner) (Invitation, error) {
	var inv Invitation
	var inviteeID sql.NullString
	var respondedAt sql.NullTime
	if err := row.Scan(
		&inv.ID, &inv.GroupID, &inv.GroupName, &inv.InviterID, &inv.InviterName, &inv.InviteeEmail,
		&inviteeID, &inv.Status, &inv.Message, &inv.ExpiresAt, &respondedAt, &inv.CreatedAt,
	); err != nil {
		return Invitation{}, err
	}
	if inviteeID.Valid {
		id := inviteeID.String
		inv.InviteeID = &id
	}
	if respondedAt.Valid {
		at := respondedAt.Time
		inv.RespondedAt = &at
	}
	return inv, nil
}

// CreateInvitation fails with a unique violation when the group already has
// a pending invitation for the same email.
func (s *PostgresStore) CreateInvitation(ctx context.Context, inv Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, group_id, inviter_id, invitee_email, invitee_id, status, message, expires_at)
		VALUES ($1, $2, $3, LOWER($4), $5, 'pending', $6, $7)
	`, inv.ID, inv.GroupID, inv.InviterID, inv.InviteeEmail, inv.InviteeID, inv.Message, inv.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvitation(ctx context.Context, id string) (Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx, invitationSelect+` WHERE i.id=$1`, id))
}

// ListUserInvitations returns pending, unexpired invitations addressed to
// the user id or email.
func (s *PostgresStore) ListUserInvitations(ctx context.Context, userID, email string) ([]Invitation, error) {
	return s.listInvitations(ctx, invitationSelect+`
		WHERE (i.invitee_id=$1 OR i.invitee_email=LOWER($2))
			AND i.status='pending' AND i.expires_at > NOW()
		ORDER BY i.created_at DESC`, userID, email)
}

func (s *PostgresStore) ListGroupInvitations(ctx context.Context, groupID string) ([]Invitation, error) {
	return s.listInvitations(ctx, invitationSelect+`
		WHERE i.group_id=$1
		ORDER BY i.created_at DESC`, groupID)
}

func (s *PostgresStore) listInvitations(ctx context.Context, query string, args ...any) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	invitations := make([]Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// SetInvitationStatus moves a pending invitation to its final status.
func (s *PostgresStore) SetInvitationStatus(ctx context.Context, id, status string) error {
	return requireAffected(s.db.ExecContext(ctx, `
		UPDATE invitations SET status=$2, responded_at=NOW()
		WHERE id=$1 AND status='pending'
	`, id, status))
}

// AcceptInvitation adds the membership and closes the invitation in one
// transaction.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, id, groupID, userID string) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireAffected(tx.ExecContext(ctx, `
			UPDATE invitations SET status='accepted', invitee_id=$2, responded_at=NOW()
			WHERE id=$1 AND status='pending'
		`, id, userID)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, 'member')
			ON CONFLICT (group_id, user_id) DO NOTHING
		`, groupID, userID); err != nil {
			return fmt.Errorf("add invited member: %w", err)
		}
		return nil
	})
}
