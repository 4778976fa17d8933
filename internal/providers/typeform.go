package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"github.com/fsotosa-ops/oasis-api/internal/utils"
)

// Typeform handles form-submission webhooks. Typeform signs the raw body
// with HMAC-SHA256 and sends "sha256=<base64 digest>" in the
// Typeform-Signature header. Traceability (user, org, enrollment) travels
// in the form's hidden fields.
type Typeform struct{}

func NewTypeform() Typeform {
	return Typeform{}
}

func (Typeform) Name() string {
	return "typeform"
}

func (Typeform) SignatureHeader() string {
	return "Typeform-Signature"
}

func (Typeform) Verify(body []byte, signature, secret string) bool {
	// Fail securely when signature or secret is missing
	if signature == "" || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

func (t Typeform) Normalize(raw []byte) (*Event, error) {
	payload, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	formResponse := asMap(payload["form_response"])
	hidden := asMap(formResponse["hidden"])

	orgID := firstNonEmpty(asString(hidden["org_id"]), asString(hidden["organization_id"]))

	return &Event{
		Source:         t.Name(),
		EventType:      "form_submission",
		ExternalID:     asString(payload["event_id"]),
		ResourceID:     strOrNil(asString(formResponse["form_id"])),
		OccurredAt:     strOrNil(asString(formResponse["submitted_at"])),
		UserIdentifier: strOrNil(firstNonEmpty(asString(hidden["user_id"]), asString(hidden["email"]))),
		OrganizationID: utils.ParseOrganizationID(orgID),
		Metadata: map[string]interface{}{
			"enrollment_id":  asString(hidden["enrollment_id"]),
			"journey_id":     asString(hidden["journey_id"]),
			"step_id":        asString(hidden["step_id"]),
			"response_token": asString(formResponse["token"]),
			"form_id":        asString(formResponse["form_id"]),
		},
	}, nil
}
