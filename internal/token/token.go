package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid unsubscribe token")
	ErrTokenExpired = errors.New("unsubscribe token expired")
)

type payload struct {
	ContactID string `json:"contactId"`
	Exp       int64  `json:"exp"` // unix milliseconds
}

// Signer issues and verifies HMAC-signed contact unsubscribe tokens embedded
// in email footers. Format: base64url(base64url(json) + "." + hex(hmac)).
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("missing token secret")
	}
	return &Signer{secret: []byte(secret)}, nil
}

func (s *Signer) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encodedPayload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignContact issues a token suppressing the given contact, valid until exp.
func (s *Signer) SignContact(contactID string, exp time.Time) string {
	data, _ := json.Marshal(payload{ContactID: contactID, Exp: exp.UnixMilli()})
	encoded := base64.RawURLEncoding.EncodeToString(data)
	signed := fmt.Sprintf("%s.%s", encoded, s.sign(encoded))
	return base64.RawURLEncoding.EncodeToString([]byte(signed))
}

// VerifyContact checks the signature and expiry and returns the contact id.
func (s *Signer) VerifyContact(token string, now time.Time) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}

	parts := strings.Split(string(raw), ".")
	if len(parts) != 2 {
		return "", ErrInvalidToken
	}

	expected := s.sign(parts[0])
	if !hmac.Equal([]byte(parts[1]), []byte(expected)) {
		return "", ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidToken
	}

	var p payload
	if err := json.Unmarshal(decoded, &p); err != nil || p.ContactID == "" || p.Exp == 0 {
		return "", ErrInvalidToken
	}

	if now.UnixMilli() > p.Exp {
		return "", ErrTokenExpired
	}

	return p.ContactID, nil
}
