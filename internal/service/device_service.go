package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nimbusops/iam-engine/internal/audit"
	"github.com/nimbusops/iam-engine/internal/repository"
)

// TrustPolicy governs how device trust scores accrue.
type TrustPolicy struct {
	Baseline  int // score assigned on first sighting
	Increment int // added per successful login, capped at 100
	Threshold int // score at or above which a device counts as trusted
}

type DeviceService struct {
	devices DeviceStore
	auditor audit.Recorder
	policy  TrustPolicy
	log     zerolog.Logger
}

func NewDeviceService(devices DeviceStore, auditor audit.Recorder, policy TrustPolicy, log zerolog.Logger) *DeviceService {
	return &DeviceService{devices: devices, auditor: auditor, policy: policy, log: log}
}

// Fingerprint derives a stable device identity from the client-supplied
// device id, the user agent, and the ip address. The user agent is
// lowercased and space-collapsed so trivial formatting differences do not
// mint new devices.
func Fingerprint(deviceID, userAgent, ipAddress string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(userAgent)), " ")
	sum := sha256.Sum256([]byte(deviceID + "|" + normalized + "|" + ipAddress))
	return hex.EncodeToString(sum[:])
}

// Trusted reports whether the device counts as trusted under the policy,
// either explicitly or by accumulated score. Blocked devices are never
// trusted.
func (s *DeviceService) Trusted(device *repository.UserDevice) bool {
	if device == nil || device.IsBlocked {
		return false
	}
	return device.IsTrusted || device.TrustScore >= s.policy.Threshold
}

// FindKnown returns the user's device matching the request fingerprint, or
// nil when the device has never been seen.
func (s *DeviceService) FindKnown(ctx context.Context, userID, deviceID, userAgent, ipAddress string) (*repository.UserDevice, error) {
	device, err := s.devices.GetByFingerprint(ctx, userID, Fingerprint(deviceID, userAgent, ipAddress))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	return device, nil
}

// RecordLogin registers the device on first sighting or bumps its trust
// score on a repeat one, returning the device with current fields. A score
// crossing the threshold flips the trusted flag so the promotion shows up
// in device listings.
func (s *DeviceService) RecordLogin(ctx context.Context, userID, deviceID, deviceName, userAgent, ipAddress string) (*repository.UserDevice, error) {
	fingerprint := Fingerprint(deviceID, userAgent, ipAddress)

	device, err := s.devices.GetByFingerprint(ctx, userID, fingerprint)
	if errors.Is(err, repository.ErrNotFound) {
		device = &repository.UserDevice{
			UserID:      userID,
			Fingerprint: fingerprint,
			TrustScore:  s.policy.Baseline,
		}
		if deviceName != "" {
			device.DeviceName = &deviceName
		}
		if ipAddress != "" {
			device.LastIPAddress = &ipAddress
		}
		if err := s.devices.Create(ctx, device); err != nil {
			return nil, err
		}
		s.auditor.Record(ctx, audit.Entry{
			UserID:    &userID,
			DeviceID:  &device.ID,
			EventType: audit.EventDeviceRegistered,
			IPAddress: ipAddress,
			UserAgent: userAgent,
			Success:   true,
		})
		return device, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.devices.RecordSeen(ctx, device.ID, ipAddress, s.policy.Increment); err != nil {
		return nil, err
	}
	device.TrustScore = min(device.TrustScore+s.policy.Increment, 100)
	if ipAddress != "" {
		device.LastIPAddress = &ipAddress
	}

	if !device.IsBlocked && !device.IsTrusted && device.TrustScore >= s.policy.Threshold {
		if err := s.devices.SetTrusted(ctx, device.ID, true); err != nil {
			return nil, err
		}
		device.IsTrusted = true
		s.log.Info().
			Str("user_id", userID).
			Str("device_id", device.ID).
			Int("trust_score", device.TrustScore).
			Msg("device promoted to trusted")
	}

	return device, nil
}

// ListDevices returns the user's known devices.
func (s *DeviceService) ListDevices(ctx context.Context, userID string) ([]*repository.UserDevice, error) {
	return s.devices.ListByUser(ctx, userID)
}

// TrustDevice explicitly trusts a device. Idempotent; blocked devices must
// be unblocked first.
func (s *DeviceService) TrustDevice(ctx context.Context, userID, deviceID string) error {
	device, err := s.devices.GetByID(ctx, userID, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load device: %w", err)
	}
	if device.IsBlocked {
		return ErrDeviceBlocked
	}
	if device.IsTrusted {
		return nil
	}

	if err := s.devices.SetTrusted(ctx, deviceID, true); err != nil {
		return err
	}
	s.auditor.Record(ctx, audit.Entry{
		UserID:    &userID,
		DeviceID:  &deviceID,
		EventType: audit.EventDeviceTrusted,
		Success:   true,
	})
	return nil
}

// BlockDevice blocks a device with a reason. Idempotent. Every future
// login from the device fails before credentials are checked.
func (s *DeviceService) BlockDevice(ctx context.Context, userID, deviceID, reason string) error {
	device, err := s.devices.GetByID(ctx, userID, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load device: %w", err)
	}
	if device.IsBlocked {
		return nil
	}

	if err := s.devices.SetBlocked(ctx, deviceID, true, reason); err != nil {
		return err
	}
	s.auditor.Record(ctx, audit.Entry{
		UserID:    &userID,
		DeviceID:  &deviceID,
		EventType: audit.EventDeviceBlocked,
		Success:   true,
		Details:   reason,
	})
	return nil
}

// UnblockDevice lifts a block. The device keeps its trust score but not
// its trusted flag.
func (s *DeviceService) UnblockDevice(ctx context.Context, userID, deviceID string) error {
	device, err := s.devices.GetByID(ctx, userID, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load device: %w", err)
	}
	if !device.IsBlocked {
		return nil
	}

	if err := s.devices.SetBlocked(ctx, deviceID, false, ""); err != nil {
		return err
	}
	s.auditor.Record(ctx, audit.Entry{
		UserID:    &userID,
		DeviceID:  &deviceID,
		EventType: audit.EventDeviceUnblocked,
		Success:   true,
	})
	return nil
}
