package security

import (
	"strings"
	"testing"
)

func testArgon2Config() Argon2Config {
	return Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestArgon2Hasher_HashAndVerify(t *testing.T) {
	hasher, err := NewArgon2Hasher(testArgon2Config())
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}

	encoded, err := hasher.Hash("482913")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	if !strings.HasPrefix(encoded, "argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}
	if strings.Contains(encoded, "482913") {
		t.Fatalf("raw secret leaked into hash")
	}

	ok, err := hasher.Verify("482913", encoded)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("482914", encoded)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestArgon2Hasher_SaltsEveryHash(t *testing.T) {
	hasher, _ := NewArgon2Hasher(testArgon2Config())

	a, _ := hasher.Hash("111333")
	b, _ := hasher.Hash("111333")
	if a == b {
		t.Fatalf("expected distinct salts")
	}
}

func TestArgon2Hasher_VerifyUsesRecordedParameters(t *testing.T) {
	old, _ := NewArgon2Hasher(testArgon2Config())
	encoded, _ := old.Hash("246810")

	cfg := testArgon2Config()
	cfg.Iterations = 2
	current, _ := NewArgon2Hasher(cfg)

	ok, err := current.Verify("246810", encoded)
	if err != nil || !ok {
		t.Fatalf("expected match with older parameters, got ok=%v err=%v", ok, err)
	}
}

func TestArgon2Hasher_RejectsMalformedHash(t *testing.T) {
	hasher, _ := NewArgon2Hasher(testArgon2Config())

	for _, encoded := range []string{
		"plain",
		"bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"argon2id$v=18$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"argon2id$v=19$m=8192,t=1$c2FsdA$aGFzaA",
	} {
		if _, err := hasher.Verify("123", encoded); err == nil {
			t.Fatalf("expected error for %q", encoded)
		}
	}
}

func TestNewArgon2Hasher_ValidatesConfig(t *testing.T) {
	cfg := testArgon2Config()
	cfg.Memory = 1024
	if _, err := NewArgon2Hasher(cfg); err == nil {
		t.Fatalf("expected error for low memory")
	}
}
