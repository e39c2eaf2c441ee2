// Package security signs and verifies oracle requests: a shared API key plus
// an HMAC-SHA256 token over "timestamp:nonce:body".
package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/stquery/internal/domain"
)

// Header names carried by every signed request.
const (
	HeaderAuthorization = "Authorization"
	HeaderFogID         = "X-Fog-ID"
	HeaderTimestamp     = "X-STQ-Timestamp"
	HeaderNonce         = "X-STQ-Nonce"
	HeaderSignature     = "X-STQ-Signature"

	apiKeyScheme = "ApiKey "
)

// DefaultMaxAge is the token freshness window.
const DefaultMaxAge = 300 * time.Second

// Token is the signed part of a request.
type Token struct {
	Timestamp int64
	Nonce     string
	Signature string
}

// Signer creates and checks tokens with one shared secret.
type Signer struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewSigner creates a signer. A non-positive maxAge uses DefaultMaxAge.
func NewSigner(secret string, maxAge time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("hmac secret is required")
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Signer{secret: []byte(secret), maxAge: maxAge, now: time.Now}, nil
}

// MaxAge returns the freshness window.
func (s *Signer) MaxAge() time.Duration { return s.maxAge }

// Sign creates a fresh token for body.
func (s *Signer) Sign(body []byte) (Token, error) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return Token{}, fmt.Errorf("nonce: %w", err)
	}
	tok := Token{Timestamp: s.now().Unix(), Nonce: hex.EncodeToString(raw[:])}
	tok.Signature = s.signature(tok.Timestamp, tok.Nonce, body)
	return tok, nil
}

// Verify checks freshness and signature. Tokens from the future are
// accepted within the same window to absorb clock skew.
func (s *Signer) Verify(tok Token, body []byte) error {
	age := s.now().Sub(time.Unix(tok.Timestamp, 0))
	if age > s.maxAge || age < -s.maxAge {
		return fmt.Errorf("token expired (age %s): %w", age.Truncate(time.Second), domain.ErrUnauthorized)
	}
	want := s.signature(tok.Timestamp, tok.Nonce, body)
	if !hmac.Equal([]byte(want), []byte(tok.Signature)) {
		return fmt.Errorf("bad signature: %w", domain.ErrUnauthorized)
	}
	return nil
}

func (s *Signer) signature(ts int64, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{':'})
	mac.Write([]byte(nonce))
	mac.Write([]byte{':'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Apply writes the token headers.
func (t Token) Apply(h http.Header) {
	h.Set(HeaderTimestamp, strconv.FormatInt(t.Timestamp, 10))
	h.Set(HeaderNonce, t.Nonce)
	h.Set(HeaderSignature, t.Signature)
}

// TokenFromHeader reads the token headers.
func TokenFromHeader(h http.Header) (Token, error) {
	ts, nonce, sig := h.Get(HeaderTimestamp), h.Get(HeaderNonce), h.Get(HeaderSignature)
	if ts == "" || nonce == "" || sig == "" {
		return Token{}, fmt.Errorf("missing token headers: %w", domain.ErrUnauthorized)
	}
	v, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("invalid timestamp: %w", domain.ErrUnauthorized)
	}
	return Token{Timestamp: v, Nonce: nonce, Signature: sig}, nil
}

// SetAPIKey writes the "Authorization: ApiKey <key>" header.
func SetAPIKey(h http.Header, key string) {
	h.Set(HeaderAuthorization, apiKeyScheme+key)
}

// APIKeyFromHeader returns the key of an "ApiKey" authorization header.
func APIKeyFromHeader(h http.Header) (string, error) {
	auth := h.Get(HeaderAuthorization)
	key, ok := strings.CutPrefix(auth, apiKeyScheme)
	if !ok || key == "" {
		return "", fmt.Errorf("authorization header must use ApiKey scheme: %w", domain.ErrUnauthorized)
	}
	return key, nil
}

// KeyMatches compares an API key against the expected one in constant time.
func KeyMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
