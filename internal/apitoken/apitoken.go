// Package apitoken issues and validates this engine's own caller-facing
// bearer tokens (the `/users/me/tokens` surface) — distinct from the
// upstream's email/password sign-in and the upstream's own access-token
// CRUD. Tokens are locally HMAC-signed JWTs: this engine both mints and
// verifies them, so no third-party key set is involved.
package apitoken

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/idgen"
)

// Claims identifies the caller and the specific token record issued to
// them, so a single token can be looked up and revoked by id.
type Claims struct {
	jwt.RegisteredClaims
	TokenID string `json:"tid"`
}

// Record is the caller-visible metadata for one issued token. The
// signed value itself is returned
// only at creation time, matching how bearer tokens are conventionally
// surfaced exactly once.
type Record struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Revoked   bool      `json:"revoked"`
}

// Issuer mints and validates HMAC-signed tokens and tracks their
// metadata in memory.
type Issuer struct {
	secret []byte
	ttl    time.Duration

	mu      sync.RWMutex
	records map[string]*Record
}

// New constructs an Issuer bound to secret (API_TOKEN_SECRET) with the
// given default token lifetime.
func New(secret string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret:  []byte(secret),
		ttl:     ttl,
		records: make(map[string]*Record),
	}
}

// Issue mints a new bearer token for owner, returning both the signed
// string (shown once) and its metadata record.
func (i *Issuer) Issue(owner, label string) (string, *Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		ID:        idgen.NanoID(),
		Label:     label,
		Owner:     owner,
		CreatedAt: now,
		ExpiresAt: now.Add(i.ttl),
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(rec.ExpiresAt),
		},
		TokenID: rec.ID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", nil, apperrors.Wrap(apperrors.CodeValidation, "sign token", err)
	}

	i.mu.Lock()
	i.records[rec.ID] = rec
	i.mu.Unlock()

	return signed, rec, nil
}

// Validate parses and verifies a bearer token string, rejecting expired,
// revoked, or unknown-record tokens.
func (i *Issuer) Validate(tokenString string) (*Record, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperrors.New(apperrors.CodeAuthRejected, "invalid or expired token")
	}

	i.mu.RLock()
	rec, ok := i.records[claims.TokenID]
	i.mu.RUnlock()
	if !ok {
		return nil, apperrors.New(apperrors.CodeTokenNotFound, "token record not found")
	}
	if rec.Revoked {
		return nil, apperrors.New(apperrors.CodeAuthRejected, "token revoked")
	}
	return rec, nil
}

// List returns every token record belonging to owner.
func (i *Issuer) List(owner string) []Record {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Record, 0, len(i.records))
	for _, rec := range i.records {
		if rec.Owner == owner {
			out = append(out, *rec)
		}
	}
	return out
}

// Revoke marks tokenID revoked, scoped to owner so one caller cannot
// revoke another's token.
func (i *Issuer) Revoke(owner, tokenID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	rec, ok := i.records[tokenID]
	if !ok || rec.Owner != owner {
		return apperrors.New(apperrors.CodeTokenNotFound, "token not found: "+tokenID)
	}
	rec.Revoked = true
	return nil
}
