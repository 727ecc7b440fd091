package password

import (
	"strings"
	"testing"
)

func TestHashFormat(t *testing.T) {
	tests := []struct {
		name     string
		password string
		params   Params
	}{
		{
			name:     "default params",
			password: "SecurePassword123!",
			params:   DefaultParams(),
		},
		{
			name:     "custom params",
			password: "AnotherPassword456!",
			params:   Params{Memory: 32 * 1024, Iterations: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		},
		{
			name:     "empty password",
			password: "",
			params:   DefaultParams(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := Hash(tt.password, tt.params)
			if err != nil {
				t.Fatalf("Hash() error = %v", err)
			}
			if !strings.HasPrefix(hash, "$argon2id$v=19$") {
				t.Errorf("Hash() invalid format: %s", hash)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	password := "TestPassword123!"
	hash, err := Hash(password, DefaultParams())
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
		wantErr  bool
	}{
		{name: "correct password", password: password, hash: hash, want: true},
		{name: "incorrect password", password: "WrongPassword", hash: hash, want: false},
		{name: "invalid hash format", password: password, hash: "invalid-hash", wantErr: true},
		{name: "missing parts", password: password, hash: "$argon2id$v=19$m=65536", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Verify(tt.password, tt.hash)
			if (err != nil) != tt.wantErr {
				t.Errorf("Verify() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashUniqueness(t *testing.T) {
	password := "SamePassword123!"

	hash1, err := Hash(password, DefaultParams())
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	hash2, err := Hash(password, DefaultParams())
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	if hash1 == hash2 {
		t.Error("Hash() produced identical hashes for same password (should use different salts)")
	}

	for _, h := range []string{hash1, hash2} {
		valid, err := Verify(password, h)
		if err != nil || !valid {
			t.Errorf("Verify() failed for %s", h)
		}
	}
}

func TestInvalidHashFormat(t *testing.T) {
	invalidHashes := []string{
		"",
		"plain-text-password",
		"$bcrypt$invalid",
		"$argon2id$",
		"$argon2id$v=18$m=65536,t=3,p=2$salt$hash", // wrong version
	}

	for _, hash := range invalidHashes {
		t.Run(hash, func(t *testing.T) {
			if _, err := Verify("password", hash); err == nil {
				t.Errorf("Verify() expected error for invalid hash: %s", hash)
			}
		})
	}
}

func BenchmarkVerify(b *testing.B) {
	hash, _ := Hash("BenchmarkPassword123!", DefaultParams())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Verify("BenchmarkPassword123!", hash)
	}
}
