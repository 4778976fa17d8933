package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/fsotosa-ops/oasis-api/internal/utils"
)

// stripeTimestampTolerance is the maximum age of a Stripe webhook before it
// is rejected as a replay, regardless of signature validity.
const stripeTimestampTolerance = 5 * time.Minute

// Stripe handles payment webhooks. The Stripe-Signature header carries
// "t=<epoch>,v1=<hex hmac>" (possibly several v1 entries); the HMAC-SHA256
// is computed over "<timestamp>.<raw body>". The embedded timestamp must be
// within the replay tolerance even when a signature matches.
type Stripe struct {
	now func() time.Time
}

func NewStripe() Stripe {
	return Stripe{now: time.Now}
}

func (Stripe) Name() string {
	return "stripe"
}

func (Stripe) SignatureHeader() string {
	return "Stripe-Signature"
}

func (s Stripe) Verify(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}

	timestamp, candidates := parseStripeSignatureHeader(signature)
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	// Anti-replay: the embedded timestamp must be recent
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	nowFn := s.now
	if nowFn == nil {
		nowFn = time.Now
	}
	age := nowFn().Unix() - ts
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > stripeTimestampTolerance {
		return false
	}

	// Signature covers "<timestamp>.<raw body>"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Stripe may send multiple v1 signatures during secret rotation
	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return true
		}
	}
	return false
}

// parseStripeSignatureHeader splits "t=timestamp,v1=sig1,v1=sig2" into its
// timestamp and v1 signature list.
func parseStripeSignatureHeader(header string) (timestamp string, signatures []string) {
	for _, item := range strings.Split(header, ",") {
		key, value, found := strings.Cut(item, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	return timestamp, signatures
}

func (s Stripe) Normalize(raw []byte) (*Event, error) {
	payload, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	eventType := asString(payload["type"])
	if eventType == "" {
		eventType = "unknown"
	}
	dataObject := asMap(asMap(payload["data"])["object"])
	metadata := asMap(dataObject["metadata"])

	objectID := asString(dataObject["id"])
	customerEmail := firstNonEmpty(asString(dataObject["receipt_email"]), asString(dataObject["customer_email"]))
	orgID := firstNonEmpty(asString(metadata["org_id"]), asString(metadata["organization_id"]))

	return &Event{
		Source:         s.Name(),
		EventType:      eventType,
		ExternalID:     asString(payload["id"]),
		ResourceID:     strOrNil(objectID),
		OccurredAt:     unixToISO(payload["created"]),
		UserIdentifier: strOrNil(firstNonEmpty(asString(metadata["user_id"]), customerEmail)),
		OrganizationID: utils.ParseOrganizationID(orgID),
		Metadata: map[string]interface{}{
			"customer_id":   asString(dataObject["customer"]),
			"amount":        dataObject["amount"],
			"currency":      asString(dataObject["currency"]),
			"status":        asString(dataObject["status"]),
			"enrollment_id": asString(metadata["enrollment_id"]),
			"journey_id":    asString(metadata["journey_id"]),
			"step_id":       asString(metadata["step_id"]),
			// Stripe resource ids keyed by event family
			"payment_intent_id": idForPrefix(eventType, "payment_intent", objectID),
			"subscription_id":   idForPrefix(eventType, "customer.subscription", objectID),
			"invoice_id":        idForPrefix(eventType, "invoice", objectID),
		},
	}, nil
}

func idForPrefix(eventType, prefix, id string) interface{} {
	if strings.HasPrefix(eventType, prefix) && id != "" {
		return id
	}
	return nil
}

// unixToISO converts an epoch value from a decoded JSON payload to an
// RFC3339 UTC string.
func unixToISO(v interface{}) *string {
	var ts int64
	switch n := v.(type) {
	case float64:
		ts = int64(n)
	case int64:
		ts = n
	default:
		return nil
	}
	iso := time.Unix(ts, 0).UTC().Format(time.RFC3339)
	return &iso
}
