// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package member

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// Role is a capability granted to an authenticated principal. The set is
// closed: every member holds RoleMember, administrators additionally hold
// RoleAdmin.
type Role string

// Granted roles.
const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Principal is the authentication framework's view of a member: the login
// identifier, the stored credential hash for the framework's own comparison,
// and the granted roles. The core never compares a submitted password itself.
type Principal struct {
	UserID       string
	PasswordHash string
	Roles        []Role
}

// HasRole reports whether the principal holds the given role.
func (p *Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PrincipalService translates stored member records into principals for the
// external authentication framework.
type PrincipalService struct {
	members Repository
}

// NewPrincipalService creates a new PrincipalService.
func NewPrincipalService(members Repository) (*PrincipalService, error) {
	if members == nil {
		return nil, oops.Code("PRINCIPAL_INVALID_DEPS").Errorf("member repository is required")
	}
	return &PrincipalService{members: members}, nil
}

// LoadPrincipal loads the principal view for a login attempt. Fails with code
// MEMBER_NOT_FOUND when no record exists and MEMBER_EMAIL_NOT_VERIFIED when
// the account has not completed email verification; unverified accounts never
// authenticate, regardless of the submitted password.
func (s *PrincipalService) LoadPrincipal(ctx context.Context, userID string) (*Principal, error) {
	m, err := s.members.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("MEMBER_NOT_FOUND").
				With("user_id", userID).
				Errorf("member not found")
		}
		return nil, oops.Code("PRINCIPAL_LOAD_FAILED").
			With("operation", "get member by id").
			Wrap(err)
	}

	if !m.EmailVerified {
		return nil, oops.Code("MEMBER_EMAIL_NOT_VERIFIED").
			With("user_id", m.UserID).
			Errorf("email is not verified")
	}

	roles := []Role{RoleMember}
	if m.Admin {
		roles = append(roles, RoleAdmin)
	}

	return &Principal{
		UserID:       m.UserID,
		PasswordHash: m.PasswordHash,
		Roles:        roles,
	}, nil
}
