package services

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cheetahbyte/plg/internal/db"
	"github.com/golang-jwt/jwt/v5"
)

// LicenseClaims is the payload of the offline license token a client caches
// between validations.
type LicenseClaims struct {
	Plan       string   `json:"plan"`
	HWID       string   `json:"hwid,omitempty"`
	Features   []string `json:"features,omitempty"`
	LicenseExp *int64   `json:"license_exp,omitempty"`

	jwt.RegisteredClaims
}

type TokenService struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

func NewTokenService(priv ed25519.PrivateKey, pub ed25519.PublicKey, audience string, ttl time.Duration) *TokenService {
	return &TokenService{privateKey: priv, publicKey: pub, audience: audience, ttl: ttl, now: time.Now}
}

// Issue signs a token for the license bound to hwid. The token never outlives
// the license.
func (s *TokenService) Issue(license db.License, features []string, hwid string) (string, *LicenseClaims, error) {
	if len(s.privateKey) != ed25519.PrivateKeySize {
		return "", nil, errors.New("invalid ed25519 private key size")
	}
	if s.ttl <= 0 {
		return "", nil, errors.New("token ttl must be > 0")
	}

	now := s.now().UTC()
	expires := now.Add(s.ttl)

	var licenseExp *int64
	if license.ExpiresAt.Valid {
		v := license.ExpiresAt.Time.UTC().Unix()
		licenseExp = &v
		if license.ExpiresAt.Time.UTC().Before(expires) {
			expires = license.ExpiresAt.Time.UTC()
		}
	}

	claims := &LicenseClaims{
		Plan:       license.Plan,
		HWID:       hwid,
		Features:   features,
		LicenseExp: licenseExp,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("lic_%d", license.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := tok.SignedString(s.privateKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Parse verifies signature, time claims and audience. Only EdDSA is accepted.
func (s *TokenService) Parse(token string) (*LicenseClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := &LicenseClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func licenseIDFromSubject(sub string) (int64, error) {
	raw, ok := strings.CutPrefix(sub, "lic_")
	if !ok {
		return 0, fmt.Errorf("%w: unexpected subject", ErrInvalidToken)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: unexpected subject", ErrInvalidToken)
	}
	return id, nil
}
