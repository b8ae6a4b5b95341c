package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for malformed or tampered tokens.
	ErrInvalidToken = errors.New("invalid download token")
	// ErrTokenExpired is returned once the token validity window has passed.
	ErrTokenExpired = errors.New("download token expired")
)

// SignedArtifact is the metadata embedded in a download token.
type SignedArtifact struct {
	TenantID  string
	Ref       string
	ExpiresAt time.Time
}

// SignedURLSigner creates and validates signed download tokens for stored artifacts.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate returns a token granting time-limited access to ref within tenantID.
func (s *SignedURLSigner) Generate(tenantID, ref string) (string, time.Time, error) {
	if tenantID == "" || ref == "" {
		return "", time.Time{}, fmt.Errorf("tenantID and ref required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).UTC()
	encodedTenant := base64.RawURLEncoding.EncodeToString([]byte(tenantID))
	encodedRef := base64.RawURLEncoding.EncodeToString([]byte(ref))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	signature := s.sign(encodedTenant, ts, encodedRef)
	return strings.Join([]string{encodedTenant, ts, encodedRef, signature}, "."), expiresAt, nil
}

// Parse validates a token and returns the embedded metadata.
func (s *SignedURLSigner) Parse(token string) (SignedArtifact, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return SignedArtifact{}, ErrInvalidToken
	}
	encodedTenant, ts, encodedRef, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(encodedTenant, ts, encodedRef)), []byte(signature)) {
		return SignedArtifact{}, ErrInvalidToken
	}
	tenant, err := base64.RawURLEncoding.DecodeString(encodedTenant)
	if err != nil {
		return SignedArtifact{}, ErrInvalidToken
	}
	ref, err := base64.RawURLEncoding.DecodeString(encodedRef)
	if err != nil {
		return SignedArtifact{}, ErrInvalidToken
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return SignedArtifact{}, ErrInvalidToken
	}
	artifact := SignedArtifact{TenantID: string(tenant), Ref: string(ref), ExpiresAt: time.Unix(expUnix, 0).UTC()}
	if s.now().After(artifact.ExpiresAt) {
		return artifact, ErrTokenExpired
	}
	return artifact, nil
}

func (s *SignedURLSigner) sign(parts ...string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
