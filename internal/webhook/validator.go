package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"hermes-backend/internal/event"
)

// Kind discriminates validation failures for response mapping and metrics.
type Kind string

const (
	KindMissingField      Kind = "missing_field"
	KindWrongType         Kind = "wrong_type"
	KindUnparseableBody   Kind = "unparseable_body"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindUnsupportedAction Kind = "unsupported_action"
)

// ValidationError reports why an inbound webhook was rejected.
type ValidationError struct {
	Kind    Kind   `json:"kind"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string { return e.Message }

// Config controls how inbound webhooks are authenticated and shaped.
// An empty Secret disables signature checking (local development).
type Config struct {
	Secret          string
	TopicHeader     string
	SignatureHeader string
	DeliveryHeader  string
	MaxBodyBytes    int64
	MaxDepth        int
}

func (c Config) withDefaults() Config {
	if c.TopicHeader == "" {
		c.TopicHeader = "X-Webhook-Topic"
	}
	if c.SignatureHeader == "" {
		c.SignatureHeader = "X-Webhook-Signature"
	}
	if c.DeliveryHeader == "" {
		c.DeliveryHeader = "X-Webhook-Delivery"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 32
	}
	return c
}

// Validator authenticates and shape-checks inbound webhooks. Validation is
// all-or-nothing: a *event.Validated either passed every check or was never
// built.
type Validator struct {
	cfg     Config
	schemas map[event.Action]*jsonschema.Schema
}

// NewValidator compiles the per-action payload schemas once at startup.
func NewValidator(cfg Config) (*Validator, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, fmt.Errorf("compile payload schemas: %w", err)
	}
	return &Validator{cfg: cfg.withDefaults(), schemas: schemas}, nil
}

// Validate runs every check in order: size cap, action, topic header,
// signature, JSON shape, nesting depth, per-action schema. The first
// failure rejects the whole request.
func (v *Validator) Validate(in event.Inbound) (*event.Validated, *ValidationError) {
	if int64(len(in.Body)) > v.cfg.MaxBodyBytes {
		return nil, &ValidationError{
			Kind:    KindUnparseableBody,
			Message: fmt.Sprintf("body exceeds %d bytes", v.cfg.MaxBodyBytes),
		}
	}

	if in.Action == "" {
		return nil, &ValidationError{Kind: KindUnsupportedAction, Message: "action is required"}
	}
	if !in.Action.Supported() {
		return nil, &ValidationError{
			Kind:    KindUnsupportedAction,
			Message: fmt.Sprintf("unsupported action: %s", in.Action),
		}
	}

	// When the source supplies a topic header it must agree with the
	// action parameter; a mismatch means the delivery was misrouted.
	if topic := in.Headers[v.cfg.TopicHeader]; topic != "" && topic != string(in.Action) {
		return nil, &ValidationError{
			Kind:    KindUnsupportedAction,
			Message: fmt.Sprintf("topic %q does not match action %q", topic, in.Action),
		}
	}

	if v.cfg.Secret != "" {
		if verr := verifySignature(in.Body, v.cfg.Secret, in.Headers[v.cfg.SignatureHeader]); verr != nil {
			return nil, verr
		}
	}

	raw, err := jsonschema.UnmarshalJSON(bytes.NewReader(in.Body))
	if err != nil {
		return nil, &ValidationError{Kind: KindUnparseableBody, Message: "body is not valid JSON"}
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, &ValidationError{Kind: KindUnparseableBody, Message: "body must be a JSON object"}
	}

	// Parsed JSON cannot be circular; the depth cap handles hostile nesting.
	if jsonDepth(raw) > v.cfg.MaxDepth {
		return nil, &ValidationError{
			Kind:    KindUnparseableBody,
			Message: fmt.Sprintf("nesting exceeds depth %d", v.cfg.MaxDepth),
		}
	}

	if err := v.schemas[in.Action].Validate(raw); err != nil {
		return nil, schemaError(err)
	}

	deliveryID := in.Headers[v.cfg.DeliveryHeader]
	if deliveryID == "" {
		deliveryID = "dl_" + uuid.New().String()
	}

	ev := &event.Validated{
		Inbound:    in,
		EntityID:   entityIDFor(in.Action, fields),
		EntityType: in.Action.EntityType(),
		DeliveryID: deliveryID,
		Fields:     fields,
	}
	ev.Graph = buildGraphEntity(ev)
	ev.Vector = buildVectorDocument(ev)
	ev.Analytics = buildAnalyticsRecord(ev)
	return ev, nil
}

// verifySignature checks the hex HMAC-SHA256 of the raw body against the
// shared secret using a constant-time compare.
func verifySignature(body []byte, secret, provided string) *ValidationError {
	if provided == "" {
		return &ValidationError{Kind: KindSignatureMismatch, Message: "missing webhook signature"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return &ValidationError{Kind: KindSignatureMismatch, Message: "invalid webhook signature"}
	}
	return nil
}

// Sign computes the signature a source platform would send for body.
// Exported for tests and replay tooling.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// jsonDepth measures nesting of decoded JSON. Scalars are depth 0.
func jsonDepth(v any) int {
	switch val := v.(type) {
	case map[string]any:
		deepest := 0
		for _, child := range val {
			if d := jsonDepth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	case []any:
		deepest := 0
		for _, child := range val {
			if d := jsonDepth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	default:
		return 0
	}
}
