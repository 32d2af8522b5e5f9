// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

// Package postgres implements member.Repository using PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/memberd/memberd/internal/member"
)

// poolIface is the subset of pgxpool.Pool used by the repository.
// Satisfied by *pgxpool.Pool and pgxmock.PgxPoolIface.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const memberColumns = `user_id, user_name, phone, password_hash, registered_at,
	       email_verified, email_verified_at, email_verification_token,
	       password_reset_token, password_reset_expires_at, admin`

// MemberRepository implements member.Repository using PostgreSQL.
type MemberRepository struct {
	pool poolIface
}

// NewMemberRepository creates a new MemberRepository.
func NewMemberRepository(pool poolIface) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// Create stores a new member.
func (r *MemberRepository) Create(ctx context.Context, m *member.Member) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO members (
			user_id, user_name, phone, password_hash, registered_at,
			email_verified, email_verified_at, email_verification_token,
			password_reset_token, password_reset_expires_at, admin
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		m.UserID,
		m.UserName,
		nullableString(m.Phone),
		m.PasswordHash,
		m.RegisteredAt,
		m.EmailVerified,
		m.EmailVerifiedAt,
		m.EmailVerificationToken,
		nullableString(m.PasswordResetToken),
		m.PasswordResetExpiresAt,
		m.Admin,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("MEMBER_EXISTS").
				With("user_id", m.UserID).
				Wrap(member.ErrAlreadyExists)
		}
		return oops.Code("MEMBER_CREATE_FAILED").
			With("operation", "insert member").
			With("user_id", m.UserID).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a member by user ID.
func (r *MemberRepository) GetByID(ctx context.Context, userID string) (*member.Member, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE user_id = $1
	`, userID)

	m, err := scanMember(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("MEMBER_NOT_FOUND").
			With("user_id", userID).
			Wrap(member.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("MEMBER_GET_BY_ID_FAILED").
			With("operation", "get member by id").
			With("user_id", userID).
			Wrap(err)
	}
	return m, nil
}

// GetByIDAndName retrieves a member matching both user ID and user name.
func (r *MemberRepository) GetByIDAndName(ctx context.Context, userID, userName string) (*member.Member, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE user_id = $1 AND user_name = $2
	`, userID, userName)

	m, err := scanMember(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("MEMBER_NOT_FOUND").
			With("user_id", userID).
			Wrap(member.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("MEMBER_GET_BY_ID_AND_NAME_FAILED").
			With("operation", "get member by id and name").
			With("user_id", userID).
			Wrap(err)
	}
	return m, nil
}

// GetByVerificationToken retrieves a member by email verification token.
func (r *MemberRepository) GetByVerificationToken(ctx context.Context, token string) (*member.Member, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE email_verification_token = $1
	`, token)

	m, err := scanMember(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("MEMBER_NOT_FOUND").
			Wrap(member.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("MEMBER_GET_BY_VERIFICATION_TOKEN_FAILED").
			With("operation", "get member by verification token").
			Wrap(err)
	}
	return m, nil
}

// GetByResetToken retrieves a member by active password reset token.
func (r *MemberRepository) GetByResetToken(ctx context.Context, token string) (*member.Member, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE password_reset_token = $1
	`, token)

	m, err := scanMember(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("MEMBER_NOT_FOUND").
			Wrap(member.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("MEMBER_GET_BY_RESET_TOKEN_FAILED").
			With("operation", "get member by reset token").
			Wrap(err)
	}
	return m, nil
}

// MarkEmailVerified flips the verified flag and records the timestamp.
// The email_verified guard makes the update a no-op when a concurrent request
// already verified the member; that case reports ErrNotFound.
func (r *MemberRepository) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE members SET email_verified = TRUE, email_verified_at = $2
		WHERE user_id = $1 AND email_verified = FALSE
	`, userID, at)
	if err != nil {
		return oops.Code("MEMBER_MARK_VERIFIED_FAILED").
			With("operation", "mark email verified").
			With("user_id", userID).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("MEMBER_NOT_FOUND").
			With("user_id", userID).
			Wrap(member.ErrNotFound)
	}
	return nil
}

// SetPasswordReset stores a reset token and its expiry, replacing any
// previous pair.
func (r *MemberRepository) SetPasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE members SET password_reset_token = $2, password_reset_expires_at = $3
		WHERE user_id = $1
	`, userID, token, expiresAt)
	if err != nil {
		return oops.Code("MEMBER_SET_RESET_FAILED").
			With("operation", "set password reset").
			With("user_id", userID).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("MEMBER_NOT_FOUND").
			With("user_id", userID).
			Wrap(member.ErrNotFound)
	}
	return nil
}

// CompletePasswordReset replaces the password hash and clears the reset token
// and expiry in one guarded update. The token match in the WHERE clause makes
// concurrent resets race for a single row update; the loser gets ErrNotFound.
func (r *MemberRepository) CompletePasswordReset(ctx context.Context, token, passwordHash string, _ time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE members SET
			password_hash = $2,
			password_reset_token = NULL,
			password_reset_expires_at = NULL
		WHERE password_reset_token = $1
	`, token, passwordHash)
	if err != nil {
		return oops.Code("MEMBER_COMPLETE_RESET_FAILED").
			With("operation", "complete password reset").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("MEMBER_NOT_FOUND").
			Wrap(member.ErrNotFound)
	}
	return nil
}

// scanMember scans a single row into a Member.
// Callers are responsible for handling pgx.ErrNoRows.
func scanMember(row pgx.Row) (*member.Member, error) {
	var (
		userID            string
		userName          string
		phone             *string
		passwordHash      string
		registeredAt      time.Time
		emailVerified     bool
		emailVerifiedAt   *time.Time
		verificationToken string
		resetToken        *string
		resetExpiresAt    *time.Time
		admin             bool
	)

	err := row.Scan(
		&userID,
		&userName,
		&phone,
		&passwordHash,
		&registeredAt,
		&emailVerified,
		&emailVerifiedAt,
		&verificationToken,
		&resetToken,
		&resetExpiresAt,
		&admin,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("MEMBER_SCAN_FAILED").
			With("operation", "scan member").
			Wrap(err)
	}

	m := &member.Member{
		UserID:                 userID,
		UserName:               userName,
		PasswordHash:           passwordHash,
		RegisteredAt:           registeredAt,
		EmailVerified:          emailVerified,
		EmailVerifiedAt:        emailVerifiedAt,
		EmailVerificationToken: verificationToken,
		PasswordResetExpiresAt: resetExpiresAt,
		Admin:                  admin,
	}
	if phone != nil {
		m.Phone = *phone
	}
	if resetToken != nil {
		m.PasswordResetToken = *resetToken
	}
	return m, nil
}

// nullableString maps "" to NULL so partial unique indexes stay usable.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time interface check.
var _ member.Repository = (*MemberRepository)(nil)
