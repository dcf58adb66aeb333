package licensecrypto

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	licenseKeyPrefix = "LIC"
	licenseKeyBytes  = 20
	keyGroupSize     = 4
)

var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func formatKey(prefix, raw string, groupSize int) string {
	raw = strings.ToUpper(raw)

	parts := make([]string, 0, len(raw)/groupSize+1)
	for i := 0; i < len(raw); i += groupSize {
		end := min(i+groupSize, len(raw))
		parts = append(parts, raw[i:end])
	}

	return prefix + "-" + strings.Join(parts, "-")
}

// GenerateLicenseKey returns a new human-typeable key such as
// LIC-ABCD-EFGH-... built from 160 random bits.
func GenerateLicenseKey() (string, error) {
	b := make([]byte, licenseKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return formatKey(licenseKeyPrefix, keyEncoding.EncodeToString(b), keyGroupSize), nil
}

// GenerateToken returns n random bytes encoded as unpadded URL-safe base64.
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token length must be positive, got %d", n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
