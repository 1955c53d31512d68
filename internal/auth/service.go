package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crossnotify/crossnotify/internal/device"
)

// ErrDeviceInactive is returned for tokens of unregistered devices.
var ErrDeviceInactive = errors.New("device is no longer registered")

// DeviceLookup resolves a device id to its registration.
type DeviceLookup interface {
	Lookup(ctx context.Context, deviceID string) (*device.Registration, error)
}

// Service provides authentication operations.
type Service struct {
	jwtService *JWTService
	devices    DeviceLookup
	now        func() time.Time
}

// ServiceConfig holds configuration for the auth service.
type ServiceConfig struct {
	JWTService *JWTService

	// Devices rejects tokens of removed or inactive devices. Optional.
	Devices DeviceLookup

	Now func() time.Time
}

// NewService creates a new auth service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		jwtService: cfg.JWTService,
		devices:    cfg.Devices,
		now:        now,
	}
}

// IssueToken returns an access token for a registered device.
func (s *Service) IssueToken(d *device.Registration) (*TokenResponse, error) {
	token, expiresAt, err := s.jwtService.GenerateDeviceToken(d.ID)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(expiresAt.Sub(s.now()).Seconds()),
	}, nil
}

// Authenticate validates a token and returns the device id it was issued to.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.jwtService.ValidateDeviceToken(tokenString)
	if err != nil {
		return "", err
	}
	if s.devices == nil {
		return claims.DeviceID, nil
	}

	d, err := s.devices.Lookup(ctx, claims.DeviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return "", ErrDeviceInactive
		}
		return "", fmt.Errorf("looking up device: %w", err)
	}
	if !d.IsActive {
		return "", ErrDeviceInactive
	}
	return d.ID, nil
}
