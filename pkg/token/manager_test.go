package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func setupTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()

	privateKeyPEM, publicKeyPEM, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	manager, err := NewManager(privateKeyPEM, publicKeyPEM, ttl, "iam-engine", "iam-clients")
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	return manager
}

func testInput() AccessTokenInput {
	return AccessTokenInput{
		UserID:      "user-123",
		Email:       "test@example.com",
		TenantID:    "tenant-456",
		TenantCode:  "acme",
		RoleName:    "Admin",
		SessionID:   "session-789",
		Permissions: []string{"catalog.products.create", "catalog.products.read"},
	}
}

func TestGenerateKeyPair(t *testing.T) {
	privateKeyPEM, publicKeyPEM, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	if len(privateKeyPEM) < 100 {
		t.Error("Private key seems too short")
	}
	if len(publicKeyPEM) < 100 {
		t.Error("Public key seems too short")
	}
}

func TestNewManagerInvalidKeys(t *testing.T) {
	tests := []struct {
		name          string
		privateKeyPEM string
		publicKeyPEM  string
	}{
		{name: "empty private key", privateKeyPEM: "", publicKeyPEM: "valid-key"},
		{name: "empty public key", privateKeyPEM: "valid-key", publicKeyPEM: ""},
		{name: "garbage keys", privateKeyPEM: "not-a-valid-key", publicKeyPEM: "not-a-valid-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.privateKeyPEM, tt.publicKeyPEM, 15*time.Minute, "iss", "aud"); err == nil {
				t.Error("NewManager() expected error, got nil")
			}
		})
	}
}

func TestIssueAndValidateAccessToken(t *testing.T) {
	manager := setupTestManager(t, 15*time.Minute)
	in := testInput()

	signed, expiresAt, err := manager.IssueAccessToken(in)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	if signed == "" {
		t.Fatal("IssueAccessToken() returned empty token")
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("IssueAccessToken() returned expiry in the past")
	}

	claims, err := manager.Validate(signed)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if claims.UserID != in.UserID {
		t.Errorf("Validate() UserID = %v, want %v", claims.UserID, in.UserID)
	}
	if claims.Subject != in.UserID {
		t.Errorf("Validate() Subject = %v, want %v", claims.Subject, in.UserID)
	}
	if claims.TenantID != in.TenantID {
		t.Errorf("Validate() TenantID = %v, want %v", claims.TenantID, in.TenantID)
	}
	if claims.TenantCode != in.TenantCode {
		t.Errorf("Validate() TenantCode = %v, want %v", claims.TenantCode, in.TenantCode)
	}
	if claims.RoleName != in.RoleName {
		t.Errorf("Validate() RoleName = %v, want %v", claims.RoleName, in.RoleName)
	}
	if claims.SessionID != in.SessionID {
		t.Errorf("Validate() SessionID = %v, want %v", claims.SessionID, in.SessionID)
	}
	if len(claims.Permissions) != 2 {
		t.Fatalf("Validate() Permissions length = %d, want 2", len(claims.Permissions))
	}
	if claims.Permissions[0] != "catalog.products.create" {
		t.Errorf("Validate() Permissions[0] = %v", claims.Permissions[0])
	}
	if claims.Issuer != "iam-engine" {
		t.Errorf("Validate() Issuer = %v, want iam-engine", claims.Issuer)
	}
	if claims.ID == "" {
		t.Error("Claims.ID (JTI) is empty")
	}
}

func TestValidateExpiredToken(t *testing.T) {
	manager := setupTestManager(t, 1*time.Millisecond)

	signed, _, err := manager.IssueAccessToken(testInput())
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := manager.Validate(signed); !errors.Is(err, ErrExpired) {
		t.Errorf("Validate() error = %v, want ErrExpired", err)
	}
}

func TestValidateTamperedToken(t *testing.T) {
	manager := setupTestManager(t, 15*time.Minute)

	token1, _, err := manager.IssueAccessToken(testInput())
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	other := testInput()
	other.RoleName = "Owner"
	token2, _, err := manager.IssueAccessToken(other)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	// Splice the payload of token2 onto the signature of token1.
	parts1 := strings.Split(token1, ".")
	parts2 := strings.Split(token2, ".")
	forged := parts2[0] + "." + parts2[1] + "." + parts1[2]

	if _, err := manager.Validate(forged); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Validate() error = %v, want ErrInvalidSignature", err)
	}
}

func TestValidateForeignKey(t *testing.T) {
	manager := setupTestManager(t, 15*time.Minute)
	foreign := setupTestManager(t, 15*time.Minute)

	signed, _, err := foreign.IssueAccessToken(testInput())
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	if _, err := manager.Validate(signed); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Validate() error = %v, want ErrInvalidSignature", err)
	}
}

func TestValidateMalformedToken(t *testing.T) {
	manager := setupTestManager(t, 15*time.Minute)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "not a jwt", token: "random-string-not-jwt"},
		{name: "truncated", token: "eyJhbGciOiJSUzI1NiJ9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := manager.Validate(tt.token); !errors.Is(err, ErrMalformed) {
				t.Errorf("Validate() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestValidateWrongAudience(t *testing.T) {
	privateKeyPEM, publicKeyPEM, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	issuing, err := NewManager(privateKeyPEM, publicKeyPEM, 15*time.Minute, "iam-engine", "other-audience")
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	verifying, err := NewManager(privateKeyPEM, publicKeyPEM, 15*time.Minute, "iam-engine", "iam-clients")
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	signed, _, err := issuing.IssueAccessToken(testInput())
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	if _, err := verifying.Validate(signed); err == nil {
		t.Error("Validate() expected error for wrong audience, got nil")
	}
}

func TestNewRefreshTokenUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewRefreshToken()
		if err != nil {
			t.Fatalf("NewRefreshToken() error = %v", err)
		}
		if len(tok) < 40 {
			t.Fatalf("NewRefreshToken() too short: %d chars", len(tok))
		}
		if seen[tok] {
			t.Fatal("NewRefreshToken() returned duplicate token")
		}
		seen[tok] = true
	}
}

func BenchmarkIssueAccessToken(b *testing.B) {
	manager := setupTestManager(&testing.T{}, 15*time.Minute)
	in := testInput()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = manager.IssueAccessToken(in)
	}
}

func BenchmarkValidate(b *testing.B) {
	manager := setupTestManager(&testing.T{}, 15*time.Minute)
	signed, _, _ := manager.IssueAccessToken(testInput())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = manager.Validate(signed)
	}
}
