// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package member_test

import (
	"context"
	"sync"
	"time"

	"github.com/memberd/memberd/internal/member"
)

// fakeRepo is an in-memory member.Repository with the same guarded-update
// semantics as the real storage layer.
type fakeRepo struct {
	mu      sync.Mutex
	members map[string]*member.Member

	failWith error // when set, every call returns this error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{members: make(map[string]*member.Member)}
}

func (r *fakeRepo) put(m *member.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.members[m.UserID] = &cp
}

func (r *fakeRepo) get(userID string) *member.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[userID]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

func (r *fakeRepo) Create(_ context.Context, m *member.Member) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m.UserID]; ok {
		return member.ErrAlreadyExists
	}
	cp := *m
	r.members[m.UserID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, userID string) (*member.Member, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[userID]
	if !ok {
		return nil, member.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeRepo) GetByIDAndName(_ context.Context, userID, userName string) (*member.Member, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[userID]
	if !ok || m.UserName != userName {
		return nil, member.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeRepo) GetByVerificationToken(_ context.Context, token string) (*member.Member, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.EmailVerificationToken == token {
			cp := *m
			return &cp, nil
		}
	}
	return nil, member.ErrNotFound
}

func (r *fakeRepo) GetByResetToken(_ context.Context, token string) (*member.Member, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.PasswordResetToken != "" && m.PasswordResetToken == token {
			cp := *m
			return &cp, nil
		}
	}
	return nil, member.ErrNotFound
}

func (r *fakeRepo) MarkEmailVerified(_ context.Context, userID string, at time.Time) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[userID]
	if !ok || m.EmailVerified {
		return member.ErrNotFound
	}
	m.EmailVerified = true
	t := at
	m.EmailVerifiedAt = &t
	return nil
}

func (r *fakeRepo) SetPasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[userID]
	if !ok {
		return member.ErrNotFound
	}
	m.PasswordResetToken = token
	t := expiresAt
	m.PasswordResetExpiresAt = &t
	return nil
}

func (r *fakeRepo) CompletePasswordReset(_ context.Context, token, passwordHash string, _ time.Time) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.PasswordResetToken != "" && m.PasswordResetToken == token {
			m.PasswordHash = passwordHash
			m.PasswordResetToken = ""
			m.PasswordResetExpiresAt = nil
			return nil
		}
	}
	return member.ErrNotFound
}

// fakeNotifier records dispatched emails and optionally fails.
type fakeNotifier struct {
	mu sync.Mutex

	verifications []sentMail
	resets        []sentMail

	failWith error
}

type sentMail struct {
	recipient string
	userName  string
	token     string
	expiresAt time.Time
}

func (n *fakeNotifier) SendVerification(_ context.Context, recipient, userName, token string) error {
	if n.failWith != nil {
		return n.failWith
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifications = append(n.verifications, sentMail{recipient: recipient, userName: userName, token: token})
	return nil
}

func (n *fakeNotifier) SendPasswordReset(_ context.Context, recipient, userName, token string, expiresAt time.Time) error {
	if n.failWith != nil {
		return n.failWith
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, sentMail{recipient: recipient, userName: userName, token: token, expiresAt: expiresAt})
	return nil
}

func (n *fakeNotifier) lastVerification() sentMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verifications[len(n.verifications)-1]
}

func (n *fakeNotifier) lastReset() sentMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resets[len(n.resets)-1]
}

// fakeHasher avoids argon2 cost in service tests.
type fakeHasher struct {
	failWith error
}

func (h *fakeHasher) Hash(password string) (string, error) {
	if h.failWith != nil {
		return "", h.failWith
	}
	if password == "" {
		return "", member.ErrEmptyPassword
	}
	return "hashed:" + password, nil
}

func (h *fakeHasher) Verify(password, hash string) (bool, error) {
	return hash == "hashed:"+password, nil
}
