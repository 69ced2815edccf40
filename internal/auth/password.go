// Password hashing.
//
// New hashes use argon2id, a memory-hard function: every guess costs the
// attacker Memory KiB of RAM as well as CPU time, which blunts GPU and ASIC
// cracking far more than iteration count alone.
//
// Hash format (PHC string, self-describing, salt embedded):
//
//	$argon2id$v=19$m=65536,t=3,p=2$<base64 salt>$<base64 key>
//	          ^     ^       ^   ^
//	          |     |       |   parallelism (lanes)
//	          |     |       iterations
//	          |     memory in KiB
//	          argon2 version
//
// Because the parameters travel with the hash, they can be raised later
// without invalidating stored passwords; NeedsRehash flags the old ones.
//
// LEGACY HASHES:
// Rows imported from the earlier bcrypt-based deployment ($2a$/$2b$/$2y$)
// still verify. They always report NeedsRehash so a successful login
// upgrades them to argon2id.

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes caps input size; argon2 would happily hash megabytes.
const MaxPasswordBytes = 1024

// Upper bounds accepted when decoding a stored hash.
const (
	maxArgon2Memory     = 1 << 20 // 1 GiB
	maxArgon2Iterations = 64
)

var ErrPasswordTooLong = errors.New("auth: password too long")

// Argon2Params are the tunable cost parameters of argon2id.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params returns OWASP-recommended defaults for argon2id.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024, // 64 MiB
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// PasswordService hashes and verifies passwords.
//
// It's a struct (not free functions) so that the cost can be injected
// in tests; NewPasswordServiceForTest uses tiny parameters so test suites
// don't spend seconds inside argon2.
type PasswordService struct {
	params Argon2Params
}

// NewPasswordService creates a PasswordService with the given parameters.
// Zero salt/key lengths fall back to the defaults.
func NewPasswordService(params Argon2Params) *PasswordService {
	def := DefaultArgon2Params()
	if params.SaltLength == 0 {
		params.SaltLength = def.SaltLength
	}
	if params.KeyLength == 0 {
		params.KeyLength = def.KeyLength
	}
	return &PasswordService{params: params}
}

// NewPasswordServiceForTest returns a PasswordService with minimal cost.
// Do NOT use in production.
func NewPasswordServiceForTest() *PasswordService {
	return NewPasswordService(Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1})
}

// Hash derives an argon2id hash of plaintext with a fresh random salt.
// Two calls with the same input return different strings.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, p.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt,
		p.params.Iterations, p.params.Memory, p.params.Parallelism, p.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.params.Memory, p.params.Iterations, p.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches the stored hash.
//
// A malformed or unsupported hash returns false exactly like a wrong
// password: callers cannot tell the two apart. The comparison itself is
// constant-time.
func (p *PasswordService) Verify(hash, plaintext string) bool {
	if len(plaintext) > MaxPasswordBytes {
		return false
	}
	if isBcrypt(hash) {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
	}

	params, salt, key, err := decodeArgon2(hash)
	if err != nil {
		return false
	}

	candidate := argon2.IDKey([]byte(plaintext), salt,
		params.Iterations, params.Memory, params.Parallelism, uint32(len(key)))

	return subtle.ConstantTimeCompare(key, candidate) == 1
}

// NeedsRehash reports whether hash was produced with anything other than
// the current algorithm and parameters.
func (p *PasswordService) NeedsRehash(hash string) bool {
	if isBcrypt(hash) {
		return true
	}
	params, salt, key, err := decodeArgon2(hash)
	if err != nil {
		return true
	}
	return params.Memory != p.params.Memory ||
		params.Iterations != p.params.Iterations ||
		params.Parallelism != p.params.Parallelism ||
		uint32(len(salt)) != p.params.SaltLength ||
		uint32(len(key)) != p.params.KeyLength
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") ||
		strings.HasPrefix(hash, "$2b$") ||
		strings.HasPrefix(hash, "$2y$")
}

// decodeArgon2 parses a PHC-formatted argon2id string. Every structural
// problem is an error; callers collapse errors to "no match".
func decodeArgon2(encoded string) (Argon2Params, []byte, []byte, error) {
	var params Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return params, nil, nil, errors.New("auth: not an argon2id hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, fmt.Errorf("auth: parsing version: %w", err)
	}
	if version != argon2.Version {
		return params, nil, nil, errors.New("auth: unsupported argon2 version")
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return params, nil, nil, fmt.Errorf("auth: parsing parameters: %w", err)
	}
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return params, nil, nil, errors.New("auth: zero argon2 parameter")
	}
	// A corrupted row must not make Verify allocate gigabytes.
	if params.Memory > maxArgon2Memory || params.Iterations > maxArgon2Iterations {
		return params, nil, nil, errors.New("auth: argon2 parameters out of range")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return params, nil, nil, errors.New("auth: bad salt encoding")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, errors.New("auth: bad key encoding")
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	return params, salt, key, nil
}
