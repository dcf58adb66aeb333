package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the PLG backend.
type Config struct {
	BindAddress string
	Port        int
	BaseURL     string
	LogLevel    string
	LogFormat   string

	DatabaseURL string
	AutoMigrate bool

	LicenseHMACSecret []byte
	TokenPrivateKey   ed25519.PrivateKey
	TokenPublicKey    ed25519.PublicKey
	TokenAudience     string
	TokenTTL          time.Duration

	TrialDuration     time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SweepInterval     time.Duration
	InviteTTL         time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int
	RequestTimeout     time.Duration
	ValidateContract   bool

	PlansFile string

	AdminAPIKeyHash string

	Stripe  StripeConfig
	Keygen  KeygenConfig
	Cognito CognitoConfig
}

type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	PortalReturn  string
}

// Enabled reports whether checkout and portal calls can reach Stripe.
func (s StripeConfig) Enabled() bool { return s.APIKey != "" }

type KeygenConfig struct {
	BaseURL      string
	AccountID    string
	ProductToken string
	// WebhookPublicKey is the account's Ed25519 verify key, hex encoded.
	WebhookPublicKey string
	Timeout          time.Duration
	MaxRetries       int
}

func (k KeygenConfig) Enabled() bool { return k.AccountID != "" && k.ProductToken != "" }

type CognitoConfig struct {
	Region     string
	UserPoolID string
	ClientID   string
}

func (c CognitoConfig) Enabled() bool { return c.UserPoolID != "" && c.ClientID != "" }

// IssuerURL is the OIDC issuer of the user pool.
func (c CognitoConfig) IssuerURL() string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Load reads configuration from the environment. A .env file is loaded if
// present but not required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	port, err := envInt("PLG_PORT", 8000)
	collect(err)
	rateLimit, err := envInt("RATE_LIMIT_PER_MINUTE", 60)
	collect(err)
	rateBurst, err := envInt("RATE_LIMIT_BURST", 20)
	collect(err)
	keygenRetries, err := envInt("KEYGEN_MAX_RETRIES", 3)
	collect(err)

	tokenTTL, err := envDuration("LICENSE_TOKEN_TTL", 7*24*time.Hour)
	collect(err)
	trialDuration, err := envDuration("TRIAL_DURATION", 14*24*time.Hour)
	collect(err)
	heartbeatInterval, err := envDuration("HEARTBEAT_INTERVAL", 10*time.Minute)
	collect(err)
	heartbeatTimeout, err := envDuration("HEARTBEAT_TIMEOUT", 72*time.Hour)
	collect(err)
	sweepInterval, err := envDuration("SWEEP_INTERVAL", time.Hour)
	collect(err)
	inviteTTL, err := envDuration("INVITE_TTL", 7*24*time.Hour)
	collect(err)
	requestTimeout, err := envDuration("REQUEST_TIMEOUT", 15*time.Second)
	collect(err)
	keygenTimeout, err := envDuration("KEYGEN_TIMEOUT", 10*time.Second)
	collect(err)

	autoMigrate, err := envBool("AUTO_MIGRATE", false)
	collect(err)
	validateContract, err := envBool("VALIDATE_CONTRACT", true)
	collect(err)

	cfg := &Config{
		BindAddress: envOrDefault("PLG_BIND_ADDRESS", "0.0.0.0"),
		Port:        port,
		BaseURL:     strings.TrimRight(envOrDefault("PLG_BASE_URL", "http://localhost:8000"), "/"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("LOG_FORMAT", "auto"),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AutoMigrate: autoMigrate,

		LicenseHMACSecret: []byte(strings.TrimSpace(os.Getenv("LICENSE_HMAC_SECRET"))),
		TokenAudience:     envOrDefault("LICENSE_TOKEN_AUDIENCE", "plg-client"),
		TokenTTL:          tokenTTL,

		TrialDuration:     trialDuration,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		SweepInterval:     sweepInterval,
		InviteTTL:         inviteTTL,

		RateLimitPerMinute: rateLimit,
		RateLimitBurst:     rateBurst,
		RequestTimeout:     requestTimeout,
		ValidateContract:   validateContract,

		PlansFile:       strings.TrimSpace(os.Getenv("PLANS_FILE")),
		AdminAPIKeyHash: strings.TrimSpace(os.Getenv("ADMIN_API_KEY_HASH")),

		Stripe: StripeConfig{
			APIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
			WebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
			SuccessURL:    strings.TrimSpace(os.Getenv("STRIPE_SUCCESS_URL")),
			CancelURL:     strings.TrimSpace(os.Getenv("STRIPE_CANCEL_URL")),
			PortalReturn:  strings.TrimSpace(os.Getenv("STRIPE_PORTAL_RETURN_URL")),
		},
		Keygen: KeygenConfig{
			BaseURL:          strings.TrimRight(envOrDefault("KEYGEN_API_URL", "https://api.keygen.sh"), "/"),
			AccountID:        strings.TrimSpace(os.Getenv("KEYGEN_ACCOUNT_ID")),
			ProductToken:     strings.TrimSpace(os.Getenv("KEYGEN_PRODUCT_TOKEN")),
			WebhookPublicKey: strings.TrimSpace(os.Getenv("KEYGEN_WEBHOOK_PUBLIC_KEY")),
			Timeout:          keygenTimeout,
			MaxRetries:       keygenRetries,
		},
		Cognito: CognitoConfig{
			Region:     envOrDefault("COGNITO_REGION", "us-east-1"),
			UserPoolID: strings.TrimSpace(os.Getenv("COGNITO_USER_POOL_ID")),
			ClientID:   strings.TrimSpace(os.Getenv("COGNITO_CLIENT_ID")),
		},
	}

	priv, pub, err := decodeSigningKeys(os.Getenv("LICENSE_JWT_PRIVATE_KEY"), os.Getenv("LICENSE_JWT_PUBLIC_KEY"))
	collect(err)
	cfg.TokenPrivateKey = priv
	cfg.TokenPublicKey = pub

	if len(errs) > 0 {
		return nil, fmt.Errorf("parse config: %s", strings.Join(errs, "; "))
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if cfg.Stripe.SuccessURL == "" {
		cfg.Stripe.SuccessURL = cfg.BaseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if cfg.Stripe.CancelURL == "" {
		cfg.Stripe.CancelURL = cfg.BaseURL + "/pricing"
	}
	if cfg.Stripe.PortalReturn == "" {
		cfg.Stripe.PortalReturn = cfg.BaseURL + "/portal"
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(c.LicenseHMACSecret) == 0 {
		missing = append(missing, "LICENSE_HMAC_SECRET")
	}
	if c.TokenPrivateKey == nil {
		missing = append(missing, "LICENSE_JWT_PRIVATE_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PLG_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if len(c.LicenseHMACSecret) < 16 {
		return fmt.Errorf("LICENSE_HMAC_SECRET must be at least 16 bytes")
	}
	if c.RateLimitPerMinute <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit values must be positive")
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT (%s) must exceed HEARTBEAT_INTERVAL (%s)", c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.TrialDuration <= 0 || c.TokenTTL <= 0 {
		return fmt.Errorf("TRIAL_DURATION and LICENSE_TOKEN_TTL must be positive")
	}

	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("PLG_BASE_URL must be a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("PLG_BASE_URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("PLG_BASE_URL must include a host")
	}

	if c.Keygen.AccountID != "" && c.Keygen.ProductToken == "" {
		return fmt.Errorf("KEYGEN_PRODUCT_TOKEN is required when KEYGEN_ACCOUNT_ID is set")
	}
	if c.Stripe.APIKey != "" && c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_API_KEY is set")
	}
	if (c.Cognito.UserPoolID == "") != (c.Cognito.ClientID == "") {
		return fmt.Errorf("COGNITO_USER_POOL_ID and COGNITO_CLIENT_ID must be set together")
	}
	return nil
}

// decodeSigningKeys decodes the base64 Ed25519 token keys. The public key is
// derived from the private key when omitted.
func decodeSigningKeys(privB64, pubB64 string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privB64 = strings.TrimSpace(privB64)
	pubB64 = strings.TrimSpace(pubB64)
	if privB64 == "" {
		return nil, nil, nil
	}

	pkBytes, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, nil, fmt.Errorf("LICENSE_JWT_PRIVATE_KEY is not valid base64: %w", err)
	}
	if len(pkBytes) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("LICENSE_JWT_PRIVATE_KEY has size %d, want %d", len(pkBytes), ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(pkBytes)
	derived := priv.Public().(ed25519.PublicKey)

	if pubB64 == "" {
		return priv, derived, nil
	}
	pbBytes, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return nil, nil, fmt.Errorf("LICENSE_JWT_PUBLIC_KEY is not valid base64: %w", err)
	}
	pub := ed25519.PublicKey(pbBytes)
	if len(pub) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("LICENSE_JWT_PUBLIC_KEY has size %d, want %d", len(pub), ed25519.PublicKeySize)
	}
	if !pub.Equal(derived) {
		return nil, nil, fmt.Errorf("LICENSE_JWT_PUBLIC_KEY does not match LICENSE_JWT_PRIVATE_KEY")
	}
	return priv, pub, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a duration like 10m or 72h: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
