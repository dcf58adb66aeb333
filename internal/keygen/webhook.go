package keygen

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

const defaultMaxSkew = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing Keygen-Signature header")
	ErrBadSignature     = errors.New("invalid Keygen webhook signature")
	ErrStaleRequest     = errors.New("webhook date outside allowed skew")
	ErrDigestMismatch   = errors.New("webhook digest does not match body")
)

// WebhookVerifier checks the HTTP signature Keygen attaches to webhook
// deliveries: an Ed25519 signature over (request-target), host, date and
// digest, made with the account's signing key.
type WebhookVerifier struct {
	key     ed25519.PublicKey
	maxSkew time.Duration
	now     func() time.Time
}

// NewWebhookVerifier takes the hex encoded Ed25519 verify key shown in the
// Keygen dashboard.
func NewWebhookVerifier(hexKey string) (*WebhookVerifier, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode keygen verify key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("keygen verify key has size %d, want %d", len(raw), ed25519.PublicKeySize)
	}
	return &WebhookVerifier{key: ed25519.PublicKey(raw), maxSkew: defaultMaxSkew, now: time.Now}, nil
}

// Verify validates the signature of r whose body has already been read.
func (v *WebhookVerifier) Verify(r *http.Request, body []byte) error {
	header := strings.TrimSpace(r.Header.Get("Keygen-Signature"))
	if header == "" {
		return ErrMissingSignature
	}
	params := parseSignatureParams(header)
	if alg := params["algorithm"]; alg != "" && alg != "ed25519" {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrBadSignature, alg)
	}
	sig, err := base64.StdEncoding.DecodeString(params["signature"])
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}

	date := r.Header.Get("Date")
	ts, err := http.ParseTime(date)
	if err != nil {
		return fmt.Errorf("%w: unparseable date", ErrStaleRequest)
	}
	if skew := v.now().Sub(ts); skew > v.maxSkew || skew < -v.maxSkew {
		return ErrStaleRequest
	}

	digest := BodyDigest(body)
	if got := r.Header.Get("Digest"); got == "" {
		return fmt.Errorf("%w: missing Digest header", ErrDigestMismatch)
	} else if got != digest {
		return ErrDigestMismatch
	}

	headers := strings.Fields(strings.ToLower(params["headers"]))
	if len(headers) == 0 {
		headers = []string{"(request-target)", "host", "date", "digest"}
	}
	// Body and timestamp checks only mean something if the signature covers them.
	for _, required := range []string{"date", "digest"} {
		if !slices.Contains(headers, required) {
			return fmt.Errorf("%w: signature does not cover %s", ErrBadSignature, required)
		}
	}
	signing := SigningString(r, headers, digest)
	if !ed25519.Verify(v.key, []byte(signing), sig) {
		return ErrBadSignature
	}
	return nil
}

// BodyDigest is the Digest header value for body.
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// SigningString builds the newline separated data covered by the signature.
func SigningString(r *http.Request, headers []string, digest string) string {
	lines := make([]string, 0, len(headers))
	for _, h := range headers {
		switch h = strings.ToLower(h); h {
		case "(request-target)":
			lines = append(lines, fmt.Sprintf("(request-target): %s %s", strings.ToLower(r.Method), r.URL.RequestURI()))
		case "host":
			lines = append(lines, "host: "+r.Host)
		case "digest":
			lines = append(lines, "digest: "+digest)
		default:
			lines = append(lines, h+": "+r.Header.Get(h))
		}
	}
	return strings.Join(lines, "\n")
}

func parseSignatureParams(header string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return out
}

// WebhookEvent is a delivered webhook-events resource.
type WebhookEvent struct {
	ID      string
	Event   string
	Payload json.RawMessage
}

type webhookEventAttributes struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var doc document[resource[webhookEventAttributes]]
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	if doc.Data.ID == "" || doc.Data.Attributes.Event == "" {
		return nil, errors.New("webhook event is missing id or event type")
	}
	return &WebhookEvent{
		ID:      doc.Data.ID,
		Event:   doc.Data.Attributes.Event,
		Payload: json.RawMessage(doc.Data.Attributes.Payload),
	}, nil
}

// License decodes the payload of a license.* event.
func (e *WebhookEvent) License() (*License, error) {
	var doc document[resource[licenseAttributes]]
	if err := json.Unmarshal(e.Payload, &doc); err != nil {
		return nil, fmt.Errorf("decode license payload: %w", err)
	}
	if doc.Data.ID == "" {
		return nil, errors.New("license payload has no id")
	}
	return licenseFrom(doc.Data), nil
}

// Machine decodes the payload of a machine.* event.
func (e *WebhookEvent) Machine() (*Machine, error) {
	var doc document[resource[machineAttributes]]
	if err := json.Unmarshal(e.Payload, &doc); err != nil {
		return nil, fmt.Errorf("decode machine payload: %w", err)
	}
	if doc.Data.ID == "" {
		return nil, errors.New("machine payload has no id")
	}
	return machineFrom(doc.Data), nil
}
