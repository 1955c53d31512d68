package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossnotify/crossnotify/internal/auth"
	"github.com/crossnotify/crossnotify/internal/device"
)

func newJWT(key, issuer, audience string) *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: key,
		Issuer:     issuer,
		Audience:   audience,
	})
}

func TestJWTService_GenerateAndValidateDeviceToken(t *testing.T) {
	svc := newJWT("test-secret-key-for-testing-only", "crossnotify", "crossnotify-local")

	token, expiresAt, err := svc.GenerateDeviceToken("dev-123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateDeviceToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dev-123", claims.DeviceID)
	assert.Equal(t, "dev-123", claims.Subject)
	assert.Equal(t, "crossnotify", claims.Issuer)
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := newJWT("test-secret-key-for-testing-only", "crossnotify", "crossnotify-local")

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateDeviceToken(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestJWTService_Mismatch(t *testing.T) {
	issued := newJWT("key-one", "crossnotify", "crossnotify-local")
	token, _, err := issued.GenerateDeviceToken("dev-123")
	require.NoError(t, err)

	tests := []struct {
		name     string
		verifier *auth.JWTService
	}{
		{"wrong signing key", newJWT("key-two", "crossnotify", "crossnotify-local")},
		{"wrong issuer", newJWT("key-one", "someone-else", "crossnotify-local")},
		{"wrong audience", newJWT("key-one", "crossnotify", "other-api")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.verifier.ValidateDeviceToken(token)
			assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
		})
	}
}

func TestJWTService_Expired(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	svc := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "k",
		Issuer:     "crossnotify",
		Audience:   "crossnotify-local",
		Expiry:     time.Hour,
		Now:        func() time.Time { return now },
	})

	token, _, err := svc.GenerateDeviceToken("dev-123")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = svc.ValidateDeviceToken(token)
	assert.ErrorIs(t, err, auth.ErrAccessTokenExpired)
}

type lookup map[string]*device.Registration

func (l lookup) Lookup(_ context.Context, id string) (*device.Registration, error) {
	d, ok := l[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d, nil
}

func TestService_Authenticate(t *testing.T) {
	jwtSvc := newJWT("k", "crossnotify", "crossnotify-local")
	svc := auth.NewService(auth.ServiceConfig{
		JWTService: jwtSvc,
		Devices: lookup{
			"active":   {ID: "active", IsActive: true},
			"inactive": {ID: "inactive", IsActive: false},
		},
	})
	ctx := context.Background()

	resp, err := svc.IssueToken(&device.Registration{ID: "active"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.InDelta(t, auth.DefaultTokenExpiry.Seconds(), float64(resp.ExpiresIn), 5)

	id, err := svc.Authenticate(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "active", id)

	for _, deviceID := range []string{"inactive", "removed"} {
		t.Run(deviceID, func(t *testing.T) {
			token, _, err := jwtSvc.GenerateDeviceToken(deviceID)
			require.NoError(t, err)
			_, err = svc.Authenticate(ctx, token)
			assert.ErrorIs(t, err, auth.ErrDeviceInactive)
		})
	}
}
