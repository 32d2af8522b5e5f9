// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package member

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/memberd/memberd/internal/observability"
	"github.com/memberd/memberd/pkg/errutil"
)

// ResetTokenTTL is the validity window of a password reset token.
const ResetTokenTTL = 24 * time.Hour

// Notifier dispatches the verification and reset emails. The lifecycle
// service composes only the semantic content (recipient, display name, token,
// purpose); message formatting and transport belong to the implementation.
//
// Tokens passed here are bearer secrets. Implementations must not log them.
type Notifier interface {
	// SendVerification sends the email-verification message for a new account.
	SendVerification(ctx context.Context, recipient, userName, token string) error

	// SendPasswordReset sends the password-reset message.
	SendPasswordReset(ctx context.Context, recipient, userName, token string, expiresAt time.Time) error
}

// LifecycleService orchestrates registration, email verification, and
// password reset, and enforces the account lifecycle invariants.
type LifecycleService struct {
	members  Repository
	hasher   PasswordHasher
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// LifecycleOption configures a LifecycleService.
type LifecycleOption func(*LifecycleService)

// WithClock overrides the service clock. Used by tests to control the reset
// expiry window.
func WithClock(now func() time.Time) LifecycleOption {
	return func(s *LifecycleService) { s.now = now }
}

// WithLogger sets the logger used for swallowed delivery failures.
func WithLogger(logger *slog.Logger) LifecycleOption {
	return func(s *LifecycleService) { s.logger = logger }
}

// NewLifecycleService creates a new LifecycleService.
func NewLifecycleService(members Repository, hasher PasswordHasher, notifier Notifier, opts ...LifecycleOption) (*LifecycleService, error) {
	if members == nil {
		return nil, oops.Code("LIFECYCLE_INVALID_DEPS").Errorf("member repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("LIFECYCLE_INVALID_DEPS").Errorf("password hasher is required")
	}
	if notifier == nil {
		return nil, oops.Code("LIFECYCLE_INVALID_DEPS").Errorf("notifier is required")
	}

	s := &LifecycleService{
		members:  members,
		hasher:   hasher,
		notifier: notifier,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a new, unverified member and dispatches the verification
// email. Fails with code MEMBER_DUPLICATE when the user ID is already taken;
// the existing record is never mutated.
//
// Email dispatch failure does not roll back member creation: the account
// exists regardless, and the failure is logged and counted for operators
// rather than reported to the caller.
func (s *LifecycleService) Register(ctx context.Context, userID, userName, phone, password string) (*Member, error) {
	// Fast-path existence check. The storage uniqueness constraint remains
	// the authoritative guard under concurrent registration.
	_, err := s.members.GetByID(ctx, userID)
	if err == nil {
		return nil, oops.Code("MEMBER_DUPLICATE").
			With("user_id", userID).
			Errorf("account already exists")
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("MEMBER_REGISTER_FAILED").
			With("operation", "get member by id").
			Wrap(err)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("MEMBER_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, oops.Code("MEMBER_REGISTER_FAILED").
			With("operation", "generate verification token").
			Wrap(err)
	}

	m, err := NewMember(userID, userName, phone, passwordHash, token, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.members.Create(ctx, m); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost the race to a concurrent registration.
			return nil, oops.Code("MEMBER_DUPLICATE").
				With("user_id", userID).
				Wrap(err)
		}
		return nil, oops.Code("MEMBER_REGISTER_FAILED").
			With("operation", "create member").
			Wrap(err)
	}

	if err := s.notifier.SendVerification(ctx, m.UserID, m.UserName, m.EmailVerificationToken); err != nil {
		errutil.LogError(s.logger, "verification email dispatch failed", err)
		observability.RecordMailDeliveryFailure("verification")
	}

	return m, nil
}

// VerifyEmail marks the member holding the given verification token as
// verified. Fails with code TOKEN_NOT_FOUND when no member holds the token
// and MEMBER_ALREADY_VERIFIED when the member is already verified; a repeat
// verification never un-verifies and never reports false success.
func (s *LifecycleService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return oops.Code("TOKEN_NOT_FOUND").Errorf("verification token cannot be empty")
	}

	m, err := s.members.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("TOKEN_NOT_FOUND").Errorf("verification token not found")
		}
		return oops.Code("MEMBER_VERIFY_FAILED").
			With("operation", "get member by verification token").
			Wrap(err)
	}

	if m.EmailVerified {
		return oops.Code("MEMBER_ALREADY_VERIFIED").
			With("user_id", m.UserID).
			Errorf("email is already verified")
	}

	if err := s.members.MarkEmailVerified(ctx, m.UserID, s.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			// A concurrent request verified the member between lookup and
			// update; the guarded update matched no row.
			return oops.Code("MEMBER_ALREADY_VERIFIED").
				With("user_id", m.UserID).
				Errorf("email is already verified")
		}
		return oops.Code("MEMBER_VERIFY_FAILED").
			With("operation", "mark email verified").
			Wrap(err)
	}

	return nil
}

// ResendVerification re-sends the verification email for an unverified
// account, reusing the stored token. Unlike Register, a delivery failure here
// surfaces to the caller: the whole point of the operation is the email.
func (s *LifecycleService) ResendVerification(ctx context.Context, userID string) error {
	m, err := s.members.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("MEMBER_NOT_FOUND").
				With("user_id", userID).
				Errorf("member not found")
		}
		return oops.Code("MEMBER_RESEND_FAILED").
			With("operation", "get member by id").
			Wrap(err)
	}

	if m.EmailVerified {
		return oops.Code("MEMBER_ALREADY_VERIFIED").
			With("user_id", m.UserID).
			Errorf("email is already verified")
	}

	if err := s.notifier.SendVerification(ctx, m.UserID, m.UserName, m.EmailVerificationToken); err != nil {
		observability.RecordMailDeliveryFailure("verification")
		return oops.Code("MAIL_DELIVERY_FAILED").
			With("purpose", "verification").
			Wrap(err)
	}

	return nil
}

// RequestPasswordReset issues a reset token valid for ResetTokenTTL and
// dispatches the reset email. Both user ID and user name must match, so a
// token cannot be obtained from the identifier alone. Repeated requests
// overwrite the previous token; only the latest link is valid.
//
// Fails with code MEMBER_NOT_FOUND on a mismatch. Callers presenting this to
// end users must keep the message indistinguishable from other lookup
// failures to avoid account enumeration.
func (s *LifecycleService) RequestPasswordReset(ctx context.Context, userID, userName string) error {
	m, err := s.members.GetByIDAndName(ctx, userID, userName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("MEMBER_NOT_FOUND").
				With("user_id", userID).
				Errorf("member not found")
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get member by id and name").
			Wrap(err)
	}

	token, err := GenerateToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate reset token").
			Wrap(err)
	}

	expiresAt := s.now().Add(ResetTokenTTL)
	if err := s.members.SetPasswordReset(ctx, m.UserID, token, expiresAt); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "set password reset").
			Wrap(err)
	}

	if err := s.notifier.SendPasswordReset(ctx, m.UserID, m.UserName, token, expiresAt); err != nil {
		errutil.LogError(s.logger, "reset email dispatch failed", err)
		observability.RecordMailDeliveryFailure("password_reset")
	}

	return nil
}

// CheckPasswordResetValid reports whether the given reset token is currently
// usable. It fails closed: an unknown token, a missing expiry, or a passed
// expiry all yield false. It performs no mutation; expiry is evaluated at
// read time, not swept in the background. The error return is non-nil only
// for storage failures.
func (s *LifecycleService) CheckPasswordResetValid(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	m, err := s.members.GetByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, oops.Code("RESET_CHECK_FAILED").
			With("operation", "get member by reset token").
			Wrap(err)
	}

	return m.ResetValidAt(s.now()), nil
}

// ResetPassword replaces the member's password using a valid reset token and
// clears the token and expiry together. Any validity failure is reported with
// code RESET_TOKEN_INVALID; the reason context field discriminates the cause
// for diagnostics without widening the caller-visible surface.
func (s *LifecycleService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if newPassword == "" {
		return oops.Code("RESET_PASSWORD_EMPTY").Errorf("new password cannot be empty")
	}

	if token == "" {
		return oops.Code("RESET_TOKEN_INVALID").
			With("reason", "empty token").
			Errorf("invalid or expired reset token")
	}

	m, err := s.members.GetByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_TOKEN_INVALID").
				With("reason", "token not found").
				Errorf("invalid or expired reset token")
		}
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "get member by reset token").
			Wrap(err)
	}

	if !m.HasActiveReset() {
		return oops.Code("RESET_TOKEN_INVALID").
			With("reason", "no expiry recorded").
			Errorf("invalid or expired reset token")
	}
	if !m.ResetValidAt(s.now()) {
		return oops.Code("RESET_TOKEN_INVALID").
			With("reason", "token expired").
			With("expired_at", m.PasswordResetExpiresAt).
			Errorf("invalid or expired reset token")
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	if err := s.members.CompletePasswordReset(ctx, token, passwordHash, s.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			// A concurrent reset already consumed the token.
			return oops.Code("RESET_TOKEN_INVALID").
				With("reason", "token already consumed").
				Errorf("invalid or expired reset token")
		}
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "complete password reset").
			Wrap(err)
	}

	return nil
}
