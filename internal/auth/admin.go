package auth

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

// AdminAuthenticator checks admin API keys against an argon2id PHC hash.
type AdminAuthenticator struct {
	hash string
}

func NewAdminAuthenticator(hash string) *AdminAuthenticator {
	return &AdminAuthenticator{hash: hash}
}

func (a *AdminAuthenticator) Enabled() bool { return a != nil && a.hash != "" }

func (a *AdminAuthenticator) Check(key string) (bool, error) {
	if !a.Enabled() || key == "" {
		return false, nil
	}
	match, err := argon2id.ComparePasswordAndHash(key, a.hash)
	if err != nil {
		return false, fmt.Errorf("compare admin key: %w", err)
	}
	return match, nil
}

// HashAdminKey produces the value for ADMIN_API_KEY_HASH.
func HashAdminKey(key string) (string, error) {
	return argon2id.CreateHash(key, argon2id.DefaultParams)
}
