package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("acme", "acme/cred-1/wf-1/passport_copy.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	artifact, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "acme", artifact.TenantID)
	require.Equal(t, "acme/cred-1/wf-1/passport_copy.pdf", artifact.Ref)
	require.WithinDuration(t, expiresAt, artifact.ExpiresAt, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	signer := NewSignedURLSigner("secret", time.Minute)
	signer.now = func() time.Time { return now }

	token, _, err := signer.Generate("acme", "acme/doc.pdf")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	artifact, err := signer.Parse(token)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.Equal(t, "acme/doc.pdf", artifact.Ref)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("acme", "acme/doc.pdf")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "b3RoZXI"
	_, err = signer.Parse(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewSignedURLSigner("other", time.Hour).Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
