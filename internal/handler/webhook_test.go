package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/keymint/keymint/internal/model"
)

func postWebhook(t *testing.T, h *WebhookHandler, payload []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	return rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := setupEnv(t)
	h := env.webhookHandler()

	payload, _ := signPayload(t, `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`)
	rec := postWebhook(t, h, payload, "t=1,v1=deadbeef")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if n, _ := env.licenses.Count(); n != 0 {
		t.Errorf("license count = %d, want 0", n)
	}
}

func TestWebhookCheckoutIssuesLicense(t *testing.T) {
	env := setupEnv(t)
	h := env.webhookHandler()

	payload, sig := signPayload(t, `{
		"id": "evt_checkout_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"mode": "subscription",
			"customer": "cus_abc",
			"subscription": "sub_abc",
			"metadata": {"plan_type": "yearly"},
			"customer_details": {"email": "alice@example.com", "name": "Alice"}
		}}
	}`)
	rec := postWebhook(t, h, payload, sig)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	lic, err := env.licenses.GetBySubscriptionID("sub_abc")
	if err != nil {
		t.Fatalf("get by subscription: %v", err)
	}
	if lic == nil {
		t.Fatal("no license issued")
	}
	if lic.Plan != model.PlanYearly {
		t.Errorf("plan = %q, want yearly", lic.Plan)
	}
	if lic.CustomerEmail != "alice@example.com" {
		t.Errorf("email = %q", lic.CustomerEmail)
	}
	if lic.CustomerName == nil || *lic.CustomerName != "Alice" {
		t.Errorf("name = %v, want Alice", lic.CustomerName)
	}
	if !lic.IsActive {
		t.Error("issued license not active")
	}

	seen, err := env.events.Seen("evt_checkout_1")
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if !seen {
		t.Error("event not recorded as processed")
	}
}

func TestWebhookDuplicateEventIssuesOnce(t *testing.T) {
	env := setupEnv(t)
	h := env.webhookHandler()

	payload, sig := signPayload(t, `{
		"id": "evt_dup",
		"type": "checkout.session.completed",
		"data": {"object": {
			"mode": "payment",
			"customer_email": "bob@example.com"
		}}
	}`)

	for i := 0; i < 3; i++ {
		rec := postWebhook(t, h, payload, sig)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d status = %d, want 200", i, rec.Code)
		}
	}

	if n, _ := env.licenses.Count(); n != 1 {
		t.Errorf("license count = %d, want 1", n)
	}
}

func TestWebhookDuplicateSubscriptionGuard(t *testing.T) {
	env := setupEnv(t)
	h := env.webhookHandler()

	// Same subscription under two distinct event IDs, as after a crash
	// between issuing and recording the first event.
	for _, id := range []string{"evt_a", "evt_b"} {
		payload, sig := signPayload(t, `{
			"id": "`+id+`",
			"type": "checkout.session.completed",
			"data": {"object": {
				"mode": "subscription",
				"subscription": "sub_same",
				"customer_details": {"email": "carol@example.com"}
			}}
		}`)
		rec := postWebhook(t, h, payload, sig)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	}

	if n, _ := env.licenses.Count(); n != 1 {
		t.Errorf("license count = %d, want 1", n)
	}
}

func TestWebhookCheckoutWithoutEmailAcked(t *testing.T) {
	env := setupEnv(t)
	h := env.webhookHandler()

	payload, sig := signPayload(t, `{
		"id": "evt_noemail",
		"type": "checkout.session.completed",
		"data": {"object": {"mode": "subscription"}}
	}`)
	rec := postWebhook(t, h, payload, sig)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if n, _ := env.licenses.Count(); n != 0 {
		t.Errorf("license count = %d, want 0", n)
	}
}

func TestWebhookRenewalExtendsExpiry(t *testing.T) {
	env := setupEnv(t)
	h := env.webhookHandler()

	lic, err := env.lifecycle.Issue("dave@example.com", "", model.PlanMonthly, "cus_ren", "sub_ren")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	periodEnd := time.Now().AddDate(0, 2, 0).Unix()
	payload, sig := signPayload(t, `{
		"id": "evt_renew",
		"type": "invoice.paid",
		"data": {"object": {
			"customer": "cus_ren",
			"period_end": `+strconv.FormatInt(periodEnd, 10)+`,
			"parent": {"subscription_details": {"subscription": "sub_ren"}}
		}}
	}`)
	rec := postWebhook(t, h, payload, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	got, err := env.licenses.GetByKey(lic.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ExpiresAt.Unix() != periodEnd {
		t.Errorf("expiry = %v, want unix %d", got.ExpiresAt, periodEnd)
	}
}

func TestWebhookRenewalUnknownLicenseAcked(t *testing.T) {
	env := setupEnv(t)
	h := env.webhookHandler()

	payload, sig := signPayload(t, `{
		"id": "evt_orphan",
		"type": "invoice.paid",
		"data": {"object": {
			"customer": "cus_missing",
			"parent": {"subscription_details": {"subscription": "sub_missing"}}
		}}
	}`)
	rec := postWebhook(t, h, payload, sig)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for unknown subscription", rec.Code)
	}
}

func TestWebhookSubscriptionDeletedDeactivates(t *testing.T) {
	env := setupEnv(t)
	h := env.webhookHandler()

	lic, err := env.lifecycle.Issue("eve@example.com", "", model.PlanMonthly, "cus_del", "sub_del")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	payload, sig := signPayload(t, `{
		"id": "evt_cancel",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_del", "status": "active"}}
	}`)
	rec := postWebhook(t, h, payload, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	got, err := env.licenses.GetByKey(lic.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsActive {
		t.Error("license still active after cancellation")
	}
}

func TestWebhookUnhandledTypeAcked(t *testing.T) {
	env := setupEnv(t)
	h := env.webhookHandler()

	payload, sig := signPayload(t, `{"id":"evt_misc","type":"payment_intent.created","data":{"object":{}}}`)
	rec := postWebhook(t, h, payload, sig)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var body map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body["received"] {
		t.Error("expected received=true ack")
	}
}
