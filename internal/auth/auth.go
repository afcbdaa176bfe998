// Package auth mints the short-lived bearer tokens the upstream
// exchange expects on websocket subscribes and private REST calls.
package auth

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenLifetime is how long a minted token stays valid upstream.
	TokenLifetime = 10 * time.Minute

	// renewMargin forces a re-mint once a cached token is within this
	// margin of expiry, so an in-flight call never carries a token that
	// lapses mid-request.
	renewMargin = time.Minute
)

// Claims is the token payload the upstream verifies: account index,
// API key slot, and the standard iat/exp pair.
type Claims struct {
	AccountIndex int64 `json:"acc"`
	APIKeyIndex  int   `json:"key"`
	jwt.RegisteredClaims
}

// Credentials identifies one upstream account and its signing key.
type Credentials struct {
	AccountIndex int64
	APIKeyIndex  int
	PrivateKey   []byte
	PublicKey    string
}

// ParseCredentials hex-decodes the private key material, accepting an
// optional 0x prefix. Empty or non-hex keys are rejected here so a
// misconfigured account fails at startup, not on first connect.
func ParseCredentials(accountIndex int64, apiKeyIndex int, privateKeyHex, publicKey string) (Credentials, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if trimmed == "" {
		return Credentials{}, fmt.Errorf("account %d: empty private key", accountIndex)
	}
	key, err := hex.DecodeString(trimmed)
	if err != nil {
		return Credentials{}, fmt.Errorf("account %d: private key is not hex: %w", accountIndex, err)
	}
	return Credentials{
		AccountIndex: accountIndex,
		APIKeyIndex:  apiKeyIndex,
		PrivateKey:   key,
		PublicKey:    publicKey,
	}, nil
}

// Minter produces bearer tokens for one account, caching the current
// token until it nears expiry. Safe for concurrent use.
type Minter struct {
	creds Credentials

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewMinter returns a Minter for the given credentials.
func NewMinter(creds Credentials) *Minter {
	return &Minter{creds: creds}
}

// AccountIndex reports which account this minter signs for.
func (m *Minter) AccountIndex() int64 { return m.creds.AccountIndex }

// Token returns a valid bearer token, minting a fresh one when none is
// cached or the cached token expires within a minute.
func (m *Minter) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if m.token != "" && now.Before(m.expires.Add(-renewMargin)) {
		return m.token, nil
	}

	expires := now.Add(TokenLifetime)
	claims := &Claims{
		AccountIndex: m.creds.AccountIndex,
		APIKeyIndex:  m.creds.APIKeyIndex,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.creds.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign auth token for account %d: %w", m.creds.AccountIndex, err)
	}

	m.token = signed
	m.expires = expires
	return signed, nil
}
