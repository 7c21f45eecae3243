package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	hashSaltLen = 16
	hashKeyLen  = 32
)

// HashParams are the process-wide argon2id cost parameters. They are fixed
// at construction time, not per call.
type HashParams struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
}

// DefaultHashParams matches the parameters the citizen accounts were
// originally provisioned with (second RFC 9106 recommendation).
func DefaultHashParams() HashParams {
	return HashParams{Memory: 19456, Time: 3, Parallelism: 1}
}

type Hasher struct {
	params HashParams
}

func NewHasher(params HashParams) *Hasher {
	if params.Memory == 0 || params.Time == 0 || params.Parallelism == 0 {
		params = DefaultHashParams()
	}
	return &Hasher{params: params}
}

// Hash derives an argon2id digest with a fresh random salt, encoded in PHC
// string format.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, hashKeyLen)

	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)

	return encoded, nil
}

// Verify checks the password against a stored digest using the parameters
// embedded in the digest itself. A mismatch is (false, nil); only a
// malformed digest is an error.
func (h *Hasher) Verify(encodedHash, password string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("unsupported password hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parse hash version: %w", err)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("parse hash parameters: %w", err)
	}
	if threads == 0 || threads > 255 {
		return false, fmt.Errorf("hash parallelism out of range: %d", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode hash salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash key: %w", err)
	}
	if len(expected) == 0 {
		return false, fmt.Errorf("empty hash key")
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, uint8(threads), uint32(len(expected)))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
