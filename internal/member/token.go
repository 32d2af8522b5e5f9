// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package member

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/samber/oops"
)

// TokenBytes is the entropy of verification and reset tokens.
// 32 bytes = 64 hex chars.
const TokenBytes = 32

// GenerateToken creates an opaque token from a cryptographically secure
// random source, hex-encoded so it is safe to embed in a URL query parameter.
// Uniqueness across the member population is enforced by storage, not here;
// at 256 bits of entropy the collision probability is negligible.
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").Wrap(err)
	}
	return hex.EncodeToString(b), nil
}
