package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nimbusops/iam-engine/internal/audit"
	"github.com/nimbusops/iam-engine/internal/repository"
	"github.com/nimbusops/iam-engine/pkg/password"
	"github.com/nimbusops/iam-engine/pkg/totp"
)

type TwoFactorService struct {
	users       UserStore
	backupCodes BackupCodeStore
	auditor     audit.Recorder
	issuer      string
	log         zerolog.Logger
}

func NewTwoFactorService(users UserStore, backupCodes BackupCodeStore, auditor audit.Recorder, issuer string, log zerolog.Logger) *TwoFactorService {
	return &TwoFactorService{
		users:       users,
		backupCodes: backupCodes,
		auditor:     auditor,
		issuer:      issuer,
		log:         log,
	}
}

// BeginSetup generates a secret and provisioning QR for the user and stores
// the secret without enabling two-factor. Enablement waits for ConfirmSetup
// so a user cannot lock themselves out with an authenticator that never
// scanned the code. Calling again replaces the pending secret.
func (s *TwoFactorService) BeginSetup(ctx context.Context, userID string) (*totp.Enrollment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	enrollment, err := totp.GenerateSecret(s.issuer, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	if err := s.users.SetTwoFactorSecret(ctx, userID, enrollment.Secret); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// ConfirmSetup enables two-factor after the user proves possession of the
// secret with a valid code, and mints the backup code set. The plaintext
// codes are returned exactly once.
func (s *TwoFactorService) ConfirmSetup(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.TwoFactorSecret == nil {
		return nil, ErrTwoFactorNotEnabled
	}
	if !totp.ValidateCode(*user.TwoFactorSecret, code) {
		return nil, ErrTwoFactorInvalidCode
	}

	if err := s.users.EnableTwoFactor(ctx, userID); err != nil {
		return nil, err
	}

	codes, err := s.mintBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:    &userID,
		EventType: audit.EventTwoFactorEnabled,
		Success:   true,
	})
	return codes, nil
}

// Disable turns two-factor off after re-proving the current password, and
// destroys the backup code set.
func (s *TwoFactorService) Disable(ctx context.Context, userID, currentPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if user.PasswordHash == nil {
		return ErrInvalidCredentials
	}
	ok, err := password.Verify(currentPassword, *user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	if err := s.users.DisableTwoFactor(ctx, userID); err != nil {
		return err
	}
	if err := s.backupCodes.DeleteAll(ctx, userID); err != nil {
		return err
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:    &userID,
		EventType: audit.EventTwoFactorDisabled,
		Success:   true,
	})
	return nil
}

// RegenerateBackupCodes replaces the remaining codes with a fresh set after
// the user presents a valid TOTP code.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return nil, ErrTwoFactorNotEnabled
	}
	if !totp.ValidateCode(*user.TwoFactorSecret, code) {
		return nil, ErrTwoFactorInvalidCode
	}
	return s.mintBackupCodes(ctx, userID)
}

// RemainingBackupCodes reports how many unused codes the user has.
func (s *TwoFactorService) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	return s.backupCodes.CountUnused(ctx, userID)
}

// VerifyCode checks a second factor: TOTP first, then the backup code set.
// A matching backup code is consumed atomically; usedBackup reports which
// path succeeded.
func (s *TwoFactorService) VerifyCode(ctx context.Context, user *repository.User, code string) (ok, usedBackup bool, err error) {
	if user.TwoFactorSecret != nil && totp.ValidateCode(*user.TwoFactorSecret, code) {
		return true, false, nil
	}

	codes, err := s.backupCodes.ListUnused(ctx, user.ID)
	if err != nil {
		return false, false, fmt.Errorf("failed to load backup codes: %w", err)
	}
	for _, candidate := range codes {
		if !totp.VerifyBackupCode(code, candidate.CodeHash) {
			continue
		}
		// Consume is single-winner; losing a race to a concurrent
		// presenter of the same code counts as a miss.
		if err := s.backupCodes.Consume(ctx, candidate.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return false, false, err
		}
		return true, true, nil
	}
	return false, false, nil
}

func (s *TwoFactorService) mintBackupCodes(ctx context.Context, userID string) ([]string, error) {
	codes, err := totp.GenerateBackupCodes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate backup codes: %w", err)
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i], err = totp.HashBackupCode(code)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
	}
	if err := s.backupCodes.Replace(ctx, userID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}
