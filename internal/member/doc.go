// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

// Package member implements the member identity and credential lifecycle.
//
// # Domain Types
//
// Member is the account record. It should be created with NewMember, which
// validates inputs and establishes the creation-time invariants (unverified,
// fresh verification token). Direct struct initialization bypasses validation
// and may create invalid state. Repository implementations receive
// pre-validated types from the constructor.
//
// # Services
//
// Service types coordinate domain operations:
//   - LifecycleService - registration, email verification, password reset
//   - PrincipalService - translates a member record into the principal view
//     consumed by the authentication framework during login
//
// Services are created with New*Service constructors that validate
// dependencies.
package member
