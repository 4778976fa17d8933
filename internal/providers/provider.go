// Package providers contains the per-provider webhook strategies: signature
// verification over the raw request bytes and normalization of the provider
// payload into the canonical event shape consumed by the journey service.
package providers

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ErrMalformedPayload is returned by Normalize when the body is not a JSON
// object. Missing optional fields never cause an error, only absent values.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Event is the canonical, provider-independent representation of an inbound
// webhook occurrence. Normalization must be deterministic: identical raw
// input always yields an identical Event.
type Event struct {
	Source         string                 `json:"source"`
	EventType      string                 `json:"event_type"`
	ExternalID     string                 `json:"external_id"`
	ResourceID     *string                `json:"resource_id"`
	OccurredAt     *string                `json:"occurred_at"`
	UserIdentifier *string                `json:"user_identifier"`
	OrganizationID *uuid.UUID             `json:"organization_id"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// Provider is the strategy a single external system implements.
//
// Verify consumes the raw, unparsed request body; re-serializing JSON before
// hashing would break signatures over whitespace and key order.
// Normalize is a pure function with no I/O.
type Provider interface {
	// Name is the lowercase provider identifier used for URL routing and
	// secret lookup (e.g. "typeform", "stripe").
	Name() string

	// SignatureHeader is the HTTP header carrying the provider's signature.
	SignatureHeader() string

	// Verify reports whether the signature authenticates the raw body.
	Verify(body []byte, signature, secret string) bool

	// Normalize translates the raw payload into the canonical Event.
	Normalize(raw []byte) (*Event, error)
}

// decodeObject parses the body as a JSON object or fails with
// ErrMalformedPayload.
func decodeObject(raw []byte) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrMalformedPayload
	}
	if payload == nil {
		return nil, ErrMalformedPayload
	}
	return payload, nil
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// strOrNil maps an empty extraction to an absent field.
func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
