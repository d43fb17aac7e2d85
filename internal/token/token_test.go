package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s, err := NewSigner("secret-1")
	require.NoError(t, err)

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	tok := s.SignContact("contact-1", now.Add(30*24*time.Hour))

	got, err := s.VerifyContact(tok, now)
	require.NoError(t, err)
	assert.Equal(t, "contact-1", got)
}

func TestVerifyExpired(t *testing.T) {
	s, err := NewSigner("secret-1")
	require.NoError(t, err)

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	tok := s.SignContact("contact-1", now.Add(time.Hour))

	_, err = s.VerifyContact(tok, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyWrongSecret(t *testing.T) {
	a, err := NewSigner("secret-a")
	require.NoError(t, err)
	b, err := NewSigner("secret-b")
	require.NoError(t, err)

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	tok := a.SignContact("contact-1", now.Add(time.Hour))

	_, err = b.VerifyContact(tok, now)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	s, err := NewSigner("secret-1")
	require.NoError(t, err)

	now := time.Now()
	for _, tok := range []string{"", "!!!", "bm90LWEtdG9rZW4", "YQ.Yg"} {
		_, err := s.VerifyContact(tok, now)
		assert.ErrorIs(t, err, ErrInvalidToken, tok)
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner("")
	assert.Error(t, err)
}
