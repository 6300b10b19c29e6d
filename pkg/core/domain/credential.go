package domain

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// SessionKeyCookie is the cookie the checksum is derived from.
const SessionKeyCookie = "p_skey"

// CredentialSet is the authenticated session material for the target identity.
// Treat it as immutable; a refresh produces a new set.
type CredentialSet struct {
	Cookies  map[string]string `json:"cookies"`
	Checksum uint32            `json:"g_tk"`
	IssuedAt time.Time         `json:"issued_at"`
}

// NewCredentialSet copies cookies and derives the checksum from the session key.
func NewCredentialSet(cookies map[string]string, issuedAt time.Time) (*CredentialSet, error) {
	key, ok := cookies[SessionKeyCookie]
	if !ok || key == "" {
		return nil, ErrSessionKeyMissing
	}
	return &CredentialSet{
		Cookies:  maps.Clone(cookies),
		Checksum: Checksum(key),
		IssuedAt: issuedAt,
	}, nil
}

// CookieHeader renders the cookies as a Cookie header value, sorted by name.
func (c *CredentialSet) CookieHeader() string {
	names := slices.Sorted(maps.Keys(c.Cookies))
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+c.Cookies[name])
	}
	return strings.Join(parts, "; ")
}

// Checksum computes the anti-forgery token (g_tk) for a session key:
// a djb2 variant kept to 31 bits after every step.
func Checksum(sessionKey string) uint32 {
	var hash uint32 = 5381
	for _, c := range sessionKey {
		hash = ((hash << 5) + hash + uint32(c)) & 0x7FFFFFFF
	}
	return hash
}
