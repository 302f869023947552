package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

type stripeRequest struct {
	method         string
	path           string
	query          url.Values
	body           []byte
	form           url.Values
	auth           string
	idempotencyKey string
}

type fakeStripe struct {
	mu       sync.Mutex
	requests []stripeRequest
	items    string
	failPost bool
}

func (f *fakeStripe) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))

		f.mu.Lock()
		f.requests = append(f.requests, stripeRequest{
			method:         r.Method,
			path:           r.URL.Path,
			query:          r.URL.Query(),
			body:           body,
			form:           form,
			auth:           r.Header.Get("Authorization"),
			idempotencyKey: r.Header.Get("Idempotency-Key"),
		})
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/subscription_items":
			fmt.Fprintf(w, `{"object":"list","url":"/v1/subscription_items","has_more":false,"data":[%s]}`, f.items)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/usage_records"):
			if f.failPost {
				w.WriteHeader(http.StatusPaymentRequired)
				fmt.Fprint(w, `{"error":{"type":"card_error","message":"card declined"}}`)
				return
			}
			fmt.Fprint(w, `{"id":"mbur_123","object":"usage_record"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/customers/cus_42":
			fmt.Fprint(w, `{"id":"cus_42","object":"customer","metadata":{"user_id":"u-42"}}`)
		default:
			t.Errorf("unexpected stripe request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"not found"}}`)
		}
	})
}

func (f *fakeStripe) posts() []stripeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []stripeRequest
	for _, req := range f.requests {
		if req.method == http.MethodPost {
			out = append(out, req)
		}
	}
	return out
}

func newTestStripe(t *testing.T, fake *fakeStripe) *StripeClient {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	client := NewStripeClient("sk_test_123", "whsec_test", server.URL)
	client.SetHTTPClient(server.Client())
	return client
}

func TestStripeRecordUsage(t *testing.T) {
	fake := &fakeStripe{items: `{"id":"si_1","object":"subscription_item"}`}
	client := newTestStripe(t, fake)

	id, err := client.RecordUsage(context.Background(), UsageRecord{
		SubscriptionRef: "sub_1",
		Quantity:        9,
		Timestamp:       time.Unix(1714546800, 0),
		IdempotencyKey:  "violation-7",
	})
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if id != "mbur_123" {
		t.Fatalf("unexpected usage record id %q", id)
	}

	if len(fake.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(fake.requests))
	}
	list, post := fake.requests[0], fake.requests[1]
	if list.query.Get("subscription") != "sub_1" || list.query.Get("limit") != "1" {
		t.Fatalf("unexpected list query %v", list.query)
	}
	if list.auth != "Bearer sk_test_123" {
		t.Fatalf("unexpected authorization %q", list.auth)
	}
	if post.path != "/v1/subscription_items/si_1/usage_records" {
		t.Fatalf("unexpected usage path %s", post.path)
	}
	if post.form.Get("quantity") != "9" || post.form.Get("action") != "increment" || post.form.Get("timestamp") != "1714546800" {
		t.Fatalf("unexpected usage form %v", post.form)
	}
	if post.idempotencyKey != "violation-7" {
		t.Fatalf("unexpected idempotency key %q", post.idempotencyKey)
	}
}

func TestStripeRecordUsageRetrySendsIdenticalRequest(t *testing.T) {
	fake := &fakeStripe{items: `{"id":"si_1","object":"subscription_item"}`}
	client := newTestStripe(t, fake)
	usage := UsageRecord{
		SubscriptionRef: "sub_1",
		Quantity:        7,
		Timestamp:       time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC),
		IdempotencyKey:  "violation-42",
	}

	if _, err := client.RecordUsage(context.Background(), usage); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := client.RecordUsage(context.Background(), usage); err != nil {
		t.Fatalf("second attempt: %v", err)
	}

	posts := fake.posts()
	if len(posts) != 2 {
		t.Fatalf("expected 2 usage posts, got %d", len(posts))
	}
	if posts[0].idempotencyKey != posts[1].idempotencyKey {
		t.Fatalf("idempotency key changed: %q vs %q", posts[0].idempotencyKey, posts[1].idempotencyKey)
	}
	if !bytes.Equal(posts[0].body, posts[1].body) {
		t.Fatalf("retry body differs:\n%s\n%s", posts[0].body, posts[1].body)
	}
	if posts[0].form.Get("timestamp") != "1714548600" {
		t.Fatalf("expected evaluation timestamp, got %v", posts[0].form)
	}
}

func TestStripeRecordUsageErrors(t *testing.T) {
	empty := &fakeStripe{}
	client := newTestStripe(t, empty)
	if _, err := client.RecordUsage(context.Background(), UsageRecord{SubscriptionRef: "sub_1", Quantity: 1}); !errors.Is(err, ErrNoSubscriptionItem) {
		t.Fatalf("expected ErrNoSubscriptionItem, got %v", err)
	}

	declined := &fakeStripe{items: `{"id":"si_1","object":"subscription_item"}`, failPost: true}
	client = newTestStripe(t, declined)
	_, err := client.RecordUsage(context.Background(), UsageRecord{SubscriptionRef: "sub_1", Quantity: 1})
	if err == nil || !strings.Contains(err.Error(), "card declined") {
		t.Fatalf("expected upstream message in error, got %v", err)
	}

	unconfigured := NewStripeClient("", "", "")
	if _, err := unconfigured.RecordUsage(context.Background(), UsageRecord{SubscriptionRef: "sub_1", Quantity: 1}); !errors.Is(err, ErrBillingNotConfigured) {
		t.Fatalf("expected ErrBillingNotConfigured, got %v", err)
	}
}

func TestStripeCustomerUserID(t *testing.T) {
	client := newTestStripe(t, &fakeStripe{})
	userID, err := client.CustomerUserID(context.Background(), "cus_42")
	if err != nil {
		t.Fatalf("customer lookup: %v", err)
	}
	if userID != "u-42" {
		t.Fatalf("expected u-42, got %q", userID)
	}
}

func signedHeader(secret string, ts time.Time, payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	}).Header
}

func TestStripeConstructEvent(t *testing.T) {
	client := newTestStripe(t, &fakeStripe{})
	payload := []byte(`{"id":"evt_1","type":"ping"}`)
	now := time.Now()

	event, err := client.ConstructEvent(payload, signedHeader("whsec_test", now, payload))
	if err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if event.ID != "evt_1" || string(event.Type) != "ping" {
		t.Fatalf("unexpected event %+v", event)
	}

	tests := []struct {
		name   string
		header string
	}{
		{name: "wrong secret", header: signedHeader("whsec_other", now, payload)},
		{name: "stale timestamp", header: signedHeader("whsec_test", now.Add(-10*time.Minute), payload)},
		{name: "missing parts", header: "v1=deadbeef"},
		{name: "empty", header: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := client.ConstructEvent(payload, tt.header); !errors.Is(err, ErrWebhookSignature) {
				t.Fatalf("expected ErrWebhookSignature, got %v", err)
			}
		})
	}

	tampered := []byte(`{"id":"evt_1","type":"pong"}`)
	if _, err := client.ConstructEvent(tampered, signedHeader("whsec_test", now, payload)); !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("expected tampered payload to fail, got %v", err)
	}

	garbage := []byte(`not json`)
	if _, err := client.ConstructEvent(garbage, signedHeader("whsec_test", now, garbage)); !errors.Is(err, ErrWebhookPayload) {
		t.Fatalf("expected ErrWebhookPayload, got %v", err)
	}
}
