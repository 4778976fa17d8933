package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signStripe(t *testing.T, body []byte, secret string, ts int64) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeAt(now time.Time) Stripe {
	return Stripe{now: func() time.Time { return now }}
}

const stripePayload = `{
	"id": "evt_1ABC",
	"type": "payment_intent.succeeded",
	"created": 1756550000,
	"data": {
		"object": {
			"id": "pi_789",
			"amount": 2900,
			"currency": "eur",
			"status": "succeeded",
			"customer": "cus_55",
			"receipt_email": "pay@example.com",
			"metadata": {
				"user_id": "user-12",
				"org_id": "64b9f3a1c2d4e5f60718293a",
				"enrollment_id": "enr-3"
			}
		}
	}
}`

func TestStripeVerify(t *testing.T) {
	now := time.Now()
	body := []byte(stripePayload)
	secret := "whsec_test"

	tests := []struct {
		name      string
		signature string
		want      bool
	}{
		{"valid signature", signStripe(t, body, secret, now.Unix()), true},
		{"wrong secret", signStripe(t, body, "whsec_other", now.Unix()), false},
		{"missing signature", "", false},
		{"no v1 component", fmt.Sprintf("t=%d", now.Unix()), false},
		{"no timestamp", "v1=deadbeef", false},
		{"non-numeric timestamp", "t=soon,v1=deadbeef", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := stripeAt(now)
			assert.Equal(t, tt.want, provider.Verify(body, tt.signature, secret))
		})
	}
}

func TestStripeVerifyReplayWindow(t *testing.T) {
	now := time.Now()
	body := []byte(stripePayload)
	secret := "whsec_test"
	provider := stripeAt(now)

	// 4 minutes old: inside the tolerance
	fresh := signStripe(t, body, secret, now.Add(-4*time.Minute).Unix())
	assert.True(t, provider.Verify(body, fresh, secret))

	// 6 minutes old: correctly signed but rejected as a replay
	stale := signStripe(t, body, secret, now.Add(-6*time.Minute).Unix())
	assert.False(t, provider.Verify(body, stale, secret))

	// Future timestamps outside the tolerance are rejected too
	future := signStripe(t, body, secret, now.Add(6*time.Minute).Unix())
	assert.False(t, provider.Verify(body, future, secret))
}

func TestStripeVerifyAcceptsRotatedSignature(t *testing.T) {
	now := time.Now()
	body := []byte(stripePayload)
	secret := "whsec_new"

	// During secret rotation Stripe sends a v1 for each active secret
	valid := signStripe(t, body, secret, now.Unix())
	header := fmt.Sprintf("%s,v1=%s", valid, "0000000000000000000000000000000000000000000000000000000000000000")

	provider := stripeAt(now)
	assert.True(t, provider.Verify(body, header, secret))
}

func TestStripeNormalize(t *testing.T) {
	provider := NewStripe()

	event, err := provider.Normalize([]byte(stripePayload))
	require.NoError(t, err)

	assert.Equal(t, "stripe", event.Source)
	assert.Equal(t, "payment_intent.succeeded", event.EventType)
	assert.Equal(t, "evt_1ABC", event.ExternalID)
	require.NotNil(t, event.ResourceID)
	assert.Equal(t, "pi_789", *event.ResourceID)
	require.NotNil(t, event.OccurredAt)
	assert.Equal(t, time.Unix(1756550000, 0).UTC().Format(time.RFC3339), *event.OccurredAt)
	require.NotNil(t, event.UserIdentifier)
	assert.Equal(t, "user-12", *event.UserIdentifier)

	// Legacy 24-hex org ids map to a stable UUID
	require.NotNil(t, event.OrganizationID)

	assert.Equal(t, "cus_55", event.Metadata["customer_id"])
	assert.Equal(t, "pi_789", event.Metadata["payment_intent_id"])
	assert.Nil(t, event.Metadata["subscription_id"])
	assert.Nil(t, event.Metadata["invoice_id"])
}

func TestStripeNormalizeUnknownType(t *testing.T) {
	provider := NewStripe()

	event, err := provider.Normalize([]byte(`{"id": "evt_2", "data": {}}`))
	require.NoError(t, err)
	assert.Equal(t, "unknown", event.EventType)
	assert.Nil(t, event.OccurredAt)
}

func TestStripeNormalizeMalformed(t *testing.T) {
	provider := NewStripe()

	_, err := provider.Normalize([]byte(`"just a string"`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseStripeSignatureHeader(t *testing.T) {
	ts, sigs := parseStripeSignatureHeader("t=1756550000, v1=aaa, v1=bbb, v0=ignored")
	assert.Equal(t, "1756550000", ts)
	assert.Equal(t, []string{"aaa", "bbb"}, sigs)

	ts, sigs = parseStripeSignatureHeader("garbage")
	assert.Empty(t, ts)
	assert.Empty(t, sigs)
}
