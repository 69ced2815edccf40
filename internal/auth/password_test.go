package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// =========================================================================
// Hash TESTS
// =========================================================================

func TestHash_OutputLooksArgon2id(t *testing.T) {
	ps := NewPasswordServiceForTest()

	hash, err := ps.Hash("password123")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=64,t=1,p=1$") {
		t.Errorf("Hash() does not look like an argon2id PHC string: %q", hash)
	}
	if strings.Contains(hash, "password123") {
		t.Error("Hash() output contains the plaintext")
	}
}

func TestHash_SamePasswordProducesDifferentHashes(t *testing.T) {
	ps := NewPasswordServiceForTest()

	hash1, _ := ps.Hash("same-password")
	hash2, _ := ps.Hash("same-password")

	if hash1 == hash2 {
		t.Error("Hash() produced identical hashes for the same password (salt must be random)")
	}
	if !ps.Verify(hash1, "same-password") || !ps.Verify(hash2, "same-password") {
		t.Error("both hashes should verify against the original password")
	}
}

func TestHash_RejectsOversizedPassword(t *testing.T) {
	ps := NewPasswordServiceForTest()

	if _, err := ps.Hash(strings.Repeat("a", MaxPasswordBytes+1)); err == nil {
		t.Fatal("Hash() should reject passwords over MaxPasswordBytes")
	}
	if _, err := ps.Hash(strings.Repeat("a", MaxPasswordBytes)); err != nil {
		t.Fatalf("Hash() should accept a password of exactly MaxPasswordBytes: %v", err)
	}
}

// =========================================================================
// Verify TESTS
// =========================================================================

func TestVerify_RoundTrip(t *testing.T) {
	ps := NewPasswordServiceForTest()

	passwords := []string{
		"correct-horse-battery-staple",
		"",
		"pässwörd-ünïcode-🔑",
		strings.Repeat("x", 200),
	}
	for _, p := range passwords {
		hash, err := ps.Hash(p)
		if err != nil {
			t.Fatalf("Hash(%q) error = %v", p, err)
		}
		if !ps.Verify(hash, p) {
			t.Errorf("Verify() = false for the password that produced the hash (%q)", p)
		}
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	ps := NewPasswordServiceForTest()

	hash, _ := ps.Hash("the-real-password")

	for _, wrong := range []string{"the-wrong-password", "", "the-real-passwor", "the-real-password "} {
		if ps.Verify(hash, wrong) {
			t.Errorf("Verify() = true for wrong password %q", wrong)
		}
	}
}

func TestVerify_MalformedHashReturnsFalse(t *testing.T) {
	ps := NewPasswordServiceForTest()
	good, _ := ps.Hash("pw")
	parts := strings.Split(good, "$")

	malformed := []string{
		"",
		"not-a-hash",
		"$argon2id$",
		"$argon2i$v=19$m=64,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=64,t=1,p=1$" + parts[4] + "$" + parts[5],
		"$argon2id$v=19$m=0,t=1,p=1$" + parts[4] + "$" + parts[5],
		"$argon2id$v=19$m=99999999,t=1,p=1$" + parts[4] + "$" + parts[5],
		"$argon2id$v=19$m=64,t=1,p=1$!!!$" + parts[5],
		"$argon2id$v=19$m=64,t=1,p=1$" + parts[4] + "$",
		good + "$extra",
		"$2a$04$invalidbcrypt",
	}
	for _, h := range malformed {
		if ps.Verify(h, "pw") {
			t.Errorf("Verify(%q) = true, want false", h)
		}
	}
}

func TestVerify_TamperedKeyReturnsFalse(t *testing.T) {
	ps := NewPasswordServiceForTest()
	hash, _ := ps.Hash("pw")

	// Replace the first character of the encoded key; every bit of it is data.
	parts := strings.Split(hash, "$")
	key := []byte(parts[5])
	if key[0] == 'A' {
		key[0] = 'B'
	} else {
		key[0] = 'A'
	}
	parts[5] = string(key)
	tampered := strings.Join(parts, "$")

	if ps.Verify(tampered, "pw") {
		t.Error("Verify() accepted a hash with a modified key")
	}
}

func TestVerify_LegacyBcrypt(t *testing.T) {
	ps := NewPasswordServiceForTest()

	legacy, err := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	if !ps.Verify(string(legacy), "old-password") {
		t.Error("Verify() should accept a legacy bcrypt hash")
	}
	if ps.Verify(string(legacy), "new-password") {
		t.Error("Verify() should reject a wrong password against a bcrypt hash")
	}
}

// =========================================================================
// NeedsRehash TESTS
// =========================================================================

func TestNeedsRehash(t *testing.T) {
	current := NewPasswordServiceForTest()
	stronger := NewPasswordService(Argon2Params{Memory: 128, Iterations: 2, Parallelism: 1})

	hash, _ := current.Hash("pw")
	legacy, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)

	if current.NeedsRehash(hash) {
		t.Error("hash with current parameters should not need rehash")
	}
	if !stronger.NeedsRehash(hash) {
		t.Error("hash with weaker parameters should need rehash")
	}
	if !current.NeedsRehash(string(legacy)) {
		t.Error("bcrypt hash should always need rehash")
	}
	if !current.NeedsRehash("garbage") {
		t.Error("unparseable hash should need rehash")
	}
}
