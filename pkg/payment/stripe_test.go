package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
)

const testWebhookSecret = "whsec_test_secret"

func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newTestStripe(t *testing.T, backendURL string) *Stripe {
	t.Helper()
	cfg := StripeConfig{SecretKey: "sk_test_123", WebhookSecret: testWebhookSecret}
	if backendURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(backendURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		})
		cfg.Backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	s, err := NewStripe(cfg)
	if err != nil {
		t.Fatalf("new stripe: %v", err)
	}
	return s
}

func TestStripeParseWebhookCompletedSession(t *testing.T) {
	s := newTestStripe(t, "")
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","amount_total":3998,"currency":"usd","metadata":{"userId":"u1","documentIds":"d1"}}}}`)

	event, err := s.ParseWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.Type != EventCheckoutCompleted || event.Session == nil {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Session.ID != "cs_1" || event.Session.AmountTotal != 3998 {
		t.Fatalf("unexpected session %+v", event.Session)
	}
	if got := event.Session.Metadata["documentIds"]; got != "d1" {
		t.Fatalf("documentIds = %q, want d1", got)
	}
}

func TestStripeParseWebhookIgnoresOtherTypes(t *testing.T) {
	s := newTestStripe(t, "")
	payload := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.created","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`)

	event, err := s.ParseWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.Type != "payment_intent.created" || event.Session != nil {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestStripeParseWebhookRejectsBadSignature(t *testing.T) {
	s := newTestStripe(t, "")
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)

	if _, err := s.ParseWebhook(payload, signPayload(payload, "whsec_other", time.Now())); err == nil {
		t.Fatal("expected error for foreign signature")
	}
	if _, err := s.ParseWebhook(payload, ""); err == nil {
		t.Fatal("expected error for missing signature")
	}
}

func TestStripeCreateCheckoutSession(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.example/cs_test_1"}`))
	}))
	t.Cleanup(srv.Close)

	s := newTestStripe(t, srv.URL)
	session, err := s.CreateCheckoutSession(context.Background(), SessionRequest{
		LineItems:  []LineItem{{Name: "NDA", UnitAmount: 1999, Quantity: 2}},
		Currency:   "usd",
		SuccessURL: "https://paperwise.test/checkout/success",
		CancelURL:  "https://paperwise.test/cart",
		Metadata:   CheckoutMetadata{UserID: "u1", Target: MultiDocument{DocumentIDs: []string{"d1"}}},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_test_1" || session.URL != "https://checkout.example/cs_test_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	want := map[string]string{
		"mode":                                   "payment",
		"line_items[0][price_data][unit_amount]": "1999",
		"line_items[0][quantity]":                "2",
		"metadata[documentIds]":                  "d1",
		"metadata[userId]":                       "u1",
	}
	for k, v := range want {
		if form[k] != v {
			t.Fatalf("form[%s] = %q, want %q", k, form[k], v)
		}
	}
}
