package licensecrypto

import "strings"

var keyStripper = strings.NewReplacer("-", "", " ", "", "\t", "")

// NormalizeKey folds user input so that "lic-abcd efgh" and "LIC-ABCD-EFGH"
// produce the same digest.
func NormalizeKey(s string) string {
	return keyStripper.Replace(strings.ToUpper(strings.TrimSpace(s)))
}

// LooksLikeLicenseKey reports whether s has the shape produced by
// GenerateLicenseKey after normalization.
func LooksLikeLicenseKey(s string) bool {
	n := NormalizeKey(s)
	if !strings.HasPrefix(n, licenseKeyPrefix) {
		return false
	}
	body := n[len(licenseKeyPrefix):]
	if len(body) != keyEncoding.EncodedLen(licenseKeyBytes) {
		return false
	}
	_, err := keyEncoding.DecodeString(body)
	return err == nil
}

// CanonicalKey re-formats user input into the grouped form GenerateLicenseKey
// emits, which is the form registered with the licensing backend. Input that
// does not look like a license key is returned normalized but ungrouped.
func CanonicalKey(s string) string {
	n := NormalizeKey(s)
	if !LooksLikeLicenseKey(n) {
		return n
	}
	return formatKey(licenseKeyPrefix, n[len(licenseKeyPrefix):], keyGroupSize)
}
