// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package member

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned by repositories when a write violates a
// uniqueness constraint (member user ID or token).
var ErrAlreadyExists = errors.New("already exists")
