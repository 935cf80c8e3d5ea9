package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const userColumns = `id, name, email, password_hash, institution, bio, research_interests, role,
	is_email_verified, verification_expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var interests []byte
	var verificationExpires sql.NullTime
	if err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Institution, &user.Bio,
		&interests, &user.Role, &user.IsEmailVerified, &verificationExpires,
		&user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return User{}, err
	}
	list, err := decodeList(interests)
	if err != nil {
		return User{}, err
	}
	user.ResearchInterests = list
	if verificationExpires.Valid {
		at := verificationExpires.Time
		user.VerificationExpiresAt = &at
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	interests, err := encodeList(user.ResearchInterests)
	if err != nil {
		return err
	}
	role := user.Role
	if role == "" {
		role = "user"
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, institution, bio, research_interests, role, is_email_verified)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8, $9)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Institution, user.Bio, interests, role, user.IsEmailVerified)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=LOWER($1)`, email)
	return scanUser(row)
}

func (s *PostgresStore) ListUsers(ctx context.Context, filter UserFilter) ([]User, int, error) {
	where := `WHERE TRUE`
	args := []any{}
	if filter.Search != "" {
		args = append(args, likePattern(filter.Search))
		where = `WHERE (name ILIKE $1 OR email ILIKE $1)`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM users %s ORDER BY name, id LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, user User) error {
	interests, err := encodeList(user.ResearchInterests)
	if err != nil {
		return err
	}
	return requireAffected(s.db.ExecContext(ctx, `
		UPDATE users
		SET name=$2, institution=$3, bio=$4, research_interests=$5, updated_at=NOW()
		WHERE id=$1
	`, user.ID, user.Name, user.Institution, user.Bio, interests))
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	return requireAffected(s.db.ExecContext(ctx,
		`UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash))
}

func (s *PostgresStore) SetVerificationToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	return requireAffected(s.db.ExecContext(ctx, `
		UPDATE users SET verification_token_hash=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, tokenHash, expiresAt))
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token_hash=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token_hash=$1 AND verification_expires_at > NOW()
		RETURNING id
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at) VALUES ($1, $2, $3)
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token_hash=$1 AND used_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}
