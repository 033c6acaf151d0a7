package usercontext

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/roach88/usersync/internal/canon"
)

// Domain prefixes for derived identities. The version suffix allows the
// algorithm to change without colliding with old values.
const (
	DomainFingerprint = "usersync/fingerprint/v1"
	DomainIdentity    = "usersync/identity/v1"
)

// hashWithDomain computes BLAKE3(domain || 0x00 || data) as hex.
func hashWithDomain(domain string, data []byte) string {
	h := blake3.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint identifies the session a context belongs to: user, role and
// session id. Preference changes keep the fingerprint; login, logout, role
// changes and session refreshes change it. All anonymous contexts share one
// fingerprint.
func (c UserContext) Fingerprint() string {
	obj := map[string]any{
		"user_id":    c.UserID(),
		"role":       string(c.Role),
		"session_id": c.Session.ID,
	}
	return hashWithDomain(DomainFingerprint, marshalOrRaw(obj))
}

// IdentityKey is the cache key for snapshots of one user across sessions.
func IdentityKey(userID string) string {
	return hashWithDomain(DomainIdentity, marshalOrRaw(map[string]any{"user_id": userID}))
}

// marshalOrRaw falls back to a NUL-joined rendering when a value cannot be
// canonically encoded (invalid UTF-8 from a provider, for instance).
func marshalOrRaw(obj map[string]any) []byte {
	if b, err := canon.Marshal(obj); err == nil {
		return b
	}
	var raw []byte
	for _, k := range canon.SortedKeys(obj) {
		raw = append(raw, k...)
		raw = append(raw, 0x00)
		if s, ok := obj[k].(string); ok {
			raw = append(raw, s...)
		}
		raw = append(raw, 0x00)
	}
	return raw
}
