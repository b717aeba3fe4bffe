package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	hashAlgorithm = "pbkdf2_sha256"
	saltSize      = 16
	keySize       = 32
)

// ErrMalformedHash is returned when a stored hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed password hash")

var b64 = base64.RawStdEncoding

// HashPassword derives a key from password with a fresh random salt and
// returns it encoded as pbkdf2_sha256$<iterations>$<salt>$<key>.
func HashPassword(password string, iterations int) (string, error) {
	if iterations <= 0 {
		return "", fmt.Errorf("invalid iteration count %d", iterations)
	}
	salt := common.GenerateRandByteArray(saltSize)
	key := deriveKey([]byte(password), salt, iterations)
	defer common.WipeByteArray(key)

	return strings.Join([]string{
		hashAlgorithm,
		strconv.Itoa(iterations),
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	}, "$"), nil
}

// VerifyPassword reports whether password matches encoded. A mismatch is
// (false, nil); an unparseable encoding is ErrMalformedHash.
func VerifyPassword(password, encoded string) (bool, error) {
	iterations, salt, want, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	got := deriveKey([]byte(password), salt, iterations)
	defer common.WipeByteArray(got)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// NeedsRehash reports whether encoded was produced with fewer iterations
// than the current setting.
func NeedsRehash(encoded string, iterations int) bool {
	stored, _, _, err := parseHash(encoded)
	return err != nil || stored < iterations
}

func deriveKey(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, keySize, sha256.New)
}

func parseHash(encoded string) (int, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashAlgorithm {
		return 0, nil, nil, ErrMalformedHash
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return 0, nil, nil, ErrMalformedHash
	}
	salt, err := b64.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return 0, nil, nil, ErrMalformedHash
	}
	key, err := b64.DecodeString(parts[3])
	if err != nil || len(key) != keySize {
		return 0, nil, nil, ErrMalformedHash
	}
	return iterations, salt, key, nil
}
