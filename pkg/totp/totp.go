// Package totp wraps time-based one-time password generation and
// verification plus single-use backup codes for two-factor auth.
package totp

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"image/png"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Period is the standard TOTP step in seconds.
	Period = 30
	// Skew is the verification window in steps either side of now,
	// tolerating client clock drift of one step.
	Skew = 1

	secretSize = 20 // 160-bit shared secret

	// BackupCodeCount codes of BackupCodeLength characters are minted
	// once per 2FA enablement.
	BackupCodeCount  = 8
	BackupCodeLength = 8

	backupCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	qrSize = 256
)

var timeNow = time.Now

// Enrollment is the output of a new secret generation: everything the
// client needs to provision an authenticator app.
type Enrollment struct {
	Secret          string // base32 shared secret
	ProvisioningURI string // otpauth:// URI
	QRCodePNG       string // base64-encoded PNG of the URI
}

// GenerateSecret creates a fresh shared secret for the given account along
// with its provisioning URI and QR image. Generating a secret does not
// enable 2FA: a subsequent correct code verification flips the flag.
func GenerateSecret(issuer, accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      Period,
		SecretSize:  secretSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &Enrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCodePNG:       base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// ValidateCode checks a TOTP code against the shared secret with a
// ±1 step window. Codes further from the current step are rejected.
func ValidateCode(secret, code string) bool {
	valid, err := totp.ValidateCustom(code, secret, timeNow(), totp.ValidateOpts{
		Period:    Period,
		Skew:      Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// GenerateBackupCodes mints the fixed-size batch of single-use recovery
// codes. Plaintext codes are returned exactly once; callers persist only
// the hashes.
func GenerateBackupCodes() ([]string, error) {
	codes := make([]string, BackupCodeCount)
	for i := range codes {
		code, err := randomCode(BackupCodeLength)
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

// HashBackupCode hashes a backup code for at-rest storage.
func HashBackupCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash backup code: %w", err)
	}
	return string(hash), nil
}

// VerifyBackupCode reports whether code matches the stored hash.
func VerifyBackupCode(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate backup code: %w", err)
		}
		buf[i] = backupCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
