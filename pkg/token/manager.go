package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrExpired          = errors.New("token expired")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrMalformed        = errors.New("token malformed")
)

// Claims is the access-token claim set. Permissions are a point-in-time
// snapshot of the role's grants: consumers must treat them as valid only
// until the token expires, there is no live re-check per request.
type Claims struct {
	UserID       string   `json:"user_id"`
	Email        string   `json:"email"`
	TenantID     string   `json:"tenant_id"`
	TenantCode   string   `json:"tenant_code"`
	RoleName     string   `json:"role_name"`
	SessionID    string   `json:"session_id"`
	Permissions  []string `json:"permissions"`
	jwt.RegisteredClaims
}

// AccessTokenInput carries everything the manager needs to mint a
// tenant-scoped access token.
type AccessTokenInput struct {
	UserID      string
	Email       string
	TenantID    string
	TenantCode  string
	RoleName    string
	SessionID   string
	Permissions []string
}

// Manager signs access tokens with an RSA private key and validates them
// with the public key, so verifiers never need the signing secret.
type Manager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	accessTTL  time.Duration
	issuer     string
	audience   string
}

func NewManager(privateKeyPEM, publicKeyPEM string, accessTTL time.Duration, issuer, audience string) (*Manager, error) {
	privateBlock, _ := pem.Decode([]byte(privateKeyPEM))
	if privateBlock == nil {
		return nil, errors.New("failed to decode private key PEM")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(privateBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicBlock, _ := pem.Decode([]byte(publicKeyPEM))
	if publicBlock == nil {
		return nil, errors.New("failed to decode public key PEM")
	}

	publicKeyInterface, err := x509.ParsePKIXPublicKey(publicBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	publicKey, ok := publicKeyInterface.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}

	return &Manager{
		privateKey: privateKey,
		publicKey:  publicKey,
		accessTTL:  accessTTL,
		issuer:     issuer,
		audience:   audience,
	}, nil
}

// AccessTokenTTL reports the configured access-token lifetime.
func (m *Manager) AccessTokenTTL() time.Duration {
	return m.accessTTL
}

// IssueAccessToken mints a signed, time-boxed token embedding the selected
// tenant context and the full permission snapshot.
func (m *Manager) IssueAccessToken(in AccessTokenInput) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.accessTTL)

	claims := &Claims{
		UserID:      in.UserID,
		Email:       in.Email,
		TenantID:    in.TenantID,
		TenantCode:  in.TenantCode,
		RoleName:    in.RoleName,
		SessionID:   in.SessionID,
		Permissions: in.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   in.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, expiresAt, nil
}

// Validate verifies signature, algorithm, issuer, audience and expiry.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.publicKey, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformed
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}

	return claims, nil
}

// NewRefreshToken generates a cryptographically random opaque token.
// The caller persists a hash of it bound to a session.
func NewRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateKeyPair generates a new RSA key pair for testing/development.
// In production, use proper key management (vault, KMS, etc.)
func GenerateKeyPair() (privateKeyPEM, publicKeyPEM string, err error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate private key: %w", err)
	}

	privateKeyBytes := x509.MarshalPKCS1PrivateKey(privateKey)
	privateKeyPEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: privateKeyBytes,
	}))

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	publicKeyPEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: publicKeyBytes,
	}))

	return privateKeyPEM, publicKeyPEM, nil
}
