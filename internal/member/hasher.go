// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package member

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("CREDENTIAL_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides salted, adaptive password hashing and verification.
// Each Hash call draws a fresh salt, so equal inputs produce distinct outputs
// that remain independently verifiable. The authentication framework verifies
// submitted passwords against stored hashes using the same contract.
type PasswordHasher interface {
	// Hash produces an argon2id hash of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an error
	// with code CREDENTIAL_CORRUPT on a malformed hash.
	Verify(password, hash string) (bool, error)
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct{}

// NewArgon2idHasher creates a new Argon2idHasher.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash produces an argon2id hash of the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("CREDENTIAL_SALT_FAILED").Wrap(err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// PHC string format:
	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// Verify checks if the password matches the hash.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, oops.Code("CREDENTIAL_CORRUPT").Errorf("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return false, oops.Code("CREDENTIAL_CORRUPT").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("CREDENTIAL_CORRUPT").Wrap(err)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, oops.Code("CREDENTIAL_CORRUPT").Wrap(err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("CREDENTIAL_CORRUPT").Wrap(err)
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("CREDENTIAL_CORRUPT").Wrap(err)
	}

	// Validate threads fits in uint8 to prevent silent truncation.
	if threads > 255 {
		return false, oops.Code("CREDENTIAL_CORRUPT").Errorf("threads value %d exceeds uint8 max", threads)
	}

	// Validate key length to prevent integer overflow in uint32 conversion.
	keyLen := len(expectedHash)
	if keyLen <= 0 || keyLen > 1<<30 {
		return false, oops.Code("CREDENTIAL_CORRUPT").Errorf("invalid hash key length: %d", keyLen)
	}

	computedHash := argon2.IDKey([]byte(password), salt, time, memory, uint8(threads), uint32(keyLen))

	if subtle.ConstantTimeCompare(computedHash, expectedHash) == 1 {
		return true, nil
	}

	return false, nil
}
