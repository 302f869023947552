package handler

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

// stripeSignature 按 Stripe 的方式签名；签名时效以真实时间校验。
func stripeSignature(secret string, ts time.Time, payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	}).Header
}

func TestStripeWebhookLinksSubscription(t *testing.T) {
	env := newHandlerEnv(t, nil)
	token, userID := env.configure(t, "billing@example.com")

	payload := []byte(fmt.Sprintf(`{"type":"checkout.session.completed","data":{"object":{"client_reference_id":%q,"customer":"cus_9","subscription":"sub_9"}}}`, userID))
	signature := stripeSignature(testWebhookSecret, time.Now(), payload)

	rr := env.do(t, http.MethodPost, "/api/stripe/webhook", "", payload, "Stripe-Signature", signature)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["received"] != true || body["handled"] != true {
		t.Fatalf("unexpected webhook response: %#v", body)
	}

	status := decodeBody(t, env.do(t, http.MethodGet, "/api/me/status", token, nil))
	if status["hasStripe"] != true || status["configured"] != true {
		t.Fatalf("expected linked billing, got %#v", status)
	}
	billing := decodeBody(t, env.do(t, http.MethodGet, "/api/me/billing", token, nil))
	if billing["linked"] != true || billing["total_usd"].(float64) != 0 {
		t.Fatalf("unexpected billing summary: %#v", billing)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	env := newHandlerEnv(t, nil)
	payload := []byte(`{"type":"checkout.session.completed","data":{"object":{"client_reference_id":"u1"}}}`)

	tests := []struct {
		name      string
		signature string
	}{
		{name: "missing", signature: ""},
		{name: "wrong secret", signature: stripeSignature("whsec_other", time.Now(), payload)},
		{name: "stale", signature: stripeSignature(testWebhookSecret, time.Now().Add(-time.Hour), payload)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/stripe/webhook", "", payload, "Stripe-Signature", tt.signature)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if got := decodeBody(t, rr)["error"]; got != "invalid_signature" {
				t.Fatalf("expected invalid_signature, got %v", got)
			}
		})
	}
}

func TestStripeWebhookIgnoresOtherEvents(t *testing.T) {
	env := newHandlerEnv(t, nil)
	payload := []byte(`{"type":"invoice.paid","data":{"object":{}}}`)
	signature := stripeSignature(testWebhookSecret, time.Now(), payload)

	rr := env.do(t, http.MethodPost, "/api/stripe/webhook", "", payload, "Stripe-Signature", signature)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["handled"] != false {
		t.Fatalf("expected event to be ignored, got %#v", body)
	}
}

func TestStripeWebhookRejectsMalformedPayload(t *testing.T) {
	env := newHandlerEnv(t, nil)
	payload := []byte(`{"type":"checkout.session.completed","data":{"object":{"subscription":["sub_1"]}}}`)

	rr := env.do(t, http.MethodPost, "/api/stripe/webhook", "", payload, "Stripe-Signature", stripeSignature(testWebhookSecret, time.Now(), payload))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["error"]; got != "invalid_payload" {
		t.Fatalf("expected invalid_payload, got %v", got)
	}
}
