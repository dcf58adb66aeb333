package licensecrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

const inviteTokenPurpose = "plg/invite-token/v1"

// LookupDigest is the HMAC-SHA256 of the normalized key. Only the digest is
// persisted, so a database dump does not leak usable keys.
func LookupDigest(secret []byte, licenseKey string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(NormalizeKey(licenseKey)))
	return mac.Sum(nil)
}

// DeriveKey expands secret into a 32 byte key bound to purpose, so one
// configured secret can key several independent MACs.
func DeriveKey(secret []byte, purpose string) []byte {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), key); err != nil {
		panic("licensecrypto: hkdf: " + err.Error())
	}
	return key
}

// TokenDigest hashes an opaque token (invites) for storage.
func TokenDigest(secret []byte, token string) []byte {
	mac := hmac.New(sha256.New, DeriveKey(secret, inviteTokenPurpose))
	mac.Write([]byte(token))
	return mac.Sum(nil)
}

// LogRef is a short, non-reversible reference to a license key for log lines.
func LogRef(secret []byte, licenseKey string) string {
	return hex.EncodeToString(LookupDigest(secret, licenseKey)[:6])
}
