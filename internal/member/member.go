// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package member

import (
	"context"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Member represents a member account.
//
// UserID is the login identifier. It is an email address in practice but the
// core treats it as an opaque unique string.
//
// EmailVerificationToken is generated once at creation and is not cleared
// after use; re-visiting a verification link after the account is verified is
// rejected by the EmailVerified flag, not by token invalidation.
//
// PasswordResetToken and PasswordResetExpiresAt are set and cleared together.
// An empty token with a nil expiry means no reset is active.
type Member struct {
	UserID                 string
	UserName               string
	Phone                  string
	PasswordHash           string
	RegisteredAt           time.Time
	EmailVerified          bool
	EmailVerifiedAt        *time.Time
	EmailVerificationToken string
	PasswordResetToken     string
	PasswordResetExpiresAt *time.Time
	Admin                  bool
}

// NewMember creates a validated, unverified Member. passwordHash must be the
// output of a PasswordHasher and verificationToken the output of
// GenerateToken; this constructor never sees a plaintext password.
func NewMember(userID, userName, phone, passwordHash, verificationToken string, now time.Time) (*Member, error) {
	userID = strings.TrimSpace(userID)
	userName = strings.TrimSpace(userName)

	if userID == "" {
		return nil, oops.Code("MEMBER_INVALID_USER_ID").Errorf("user ID cannot be empty")
	}
	if userName == "" {
		return nil, oops.Code("MEMBER_INVALID_USER_NAME").Errorf("user name cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("MEMBER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if verificationToken == "" {
		return nil, oops.Code("MEMBER_INVALID_TOKEN").Errorf("verification token cannot be empty")
	}
	if now.IsZero() {
		return nil, oops.Code("MEMBER_INVALID_TIME").Errorf("registration time cannot be zero")
	}

	return &Member{
		UserID:                 userID,
		UserName:               userName,
		Phone:                  strings.TrimSpace(phone),
		PasswordHash:           passwordHash,
		RegisteredAt:           now,
		EmailVerified:          false,
		EmailVerificationToken: verificationToken,
	}, nil
}

// HasActiveReset reports whether a password reset token is currently stored.
// It does not check the expiry window; see ResetValidAt.
func (m *Member) HasActiveReset() bool {
	return m.PasswordResetToken != "" && m.PasswordResetExpiresAt != nil
}

// ResetValidAt reports whether the stored reset token is usable at the given
// instant. The token is valid up to and including the expiry instant.
func (m *Member) ResetValidAt(now time.Time) bool {
	if !m.HasActiveReset() {
		return false
	}
	return !now.After(*m.PasswordResetExpiresAt)
}

// Repository manages member persistence.
//
// Lookups return ErrNotFound (possibly wrapped) when no member matches.
// The storage layer is the authoritative guard for UserID uniqueness: Create
// must fail with ErrAlreadyExists when a concurrent registration wins the
// race, regardless of any prior existence check by the caller.
//
// The mutation methods are guarded compare-and-swap updates so that a second
// concurrent verification or reset observes the already-mutated state and
// fails with ErrNotFound instead of double-applying.
type Repository interface {
	// Create stores a new member. Fails with ErrAlreadyExists when the
	// user ID is already taken.
	Create(ctx context.Context, m *Member) error

	// GetByID retrieves a member by user ID.
	GetByID(ctx context.Context, userID string) (*Member, error)

	// GetByIDAndName retrieves a member matching both user ID and user name.
	GetByIDAndName(ctx context.Context, userID, userName string) (*Member, error)

	// GetByVerificationToken retrieves a member by email verification token.
	GetByVerificationToken(ctx context.Context, token string) (*Member, error)

	// GetByResetToken retrieves a member by active password reset token.
	GetByResetToken(ctx context.Context, token string) (*Member, error)

	// MarkEmailVerified flips the verified flag and records the timestamp.
	// Fails with ErrNotFound when the member does not exist or is already
	// verified.
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error

	// SetPasswordReset stores a reset token and its expiry, replacing any
	// previous pair. Fails with ErrNotFound when the member does not exist.
	SetPasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error

	// CompletePasswordReset replaces the password hash and clears the reset
	// token and expiry in one guarded update. Fails with ErrNotFound when no
	// member currently holds the given token.
	CompletePasswordReset(ctx context.Context, token, passwordHash string, at time.Time) error
}
