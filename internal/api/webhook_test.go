package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage"
)

func checkoutEvent(t *testing.T, eventType string, session map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"type":        eventType,
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": session},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return payload
}

func paidSession(id string, amountTotal int64, metadata map[string]string) map[string]any {
	return map[string]any{
		"id":             id,
		"object":         "checkout.session",
		"amount_total":   amountTotal,
		"currency":       "usd",
		"payment_status": "paid",
		"metadata":       metadata,
		"customer_details": map[string]any{
			"email": "ada@example.com",
			"name":  "Ada Lovelace",
		},
	}
}

func (s *testServer) deliver(t *testing.T, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func sign(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	}).Header
}

func (s *testServer) donations(t *testing.T) []models.Donation {
	t.Helper()
	c, err := s.store.LedgerStore.Load(context.Background())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	return c.Donations
}

func TestStripeWebhook_RejectsUnsignedAndForged(t *testing.T) {
	s := newTestServer(t, testAdminSecret)
	item := s.addItem(t, "Laptops", "1200")
	payload := checkoutEvent(t, "checkout.session.completed", paidSession("cs_forged", 120000, map[string]string{"equipmentId": item.ID}))

	if rec := s.deliver(t, payload, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing signature: expected 400, got %d", rec.Code)
	}
	if rec := s.deliver(t, payload, sign(payload, "whsec_wrong")); rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong secret: expected 400, got %d", rec.Code)
	}

	tampered := checkoutEvent(t, "checkout.session.completed", paidSession("cs_forged", 999999, map[string]string{"equipmentId": item.ID}))
	if rec := s.deliver(t, tampered, sign(payload, testWebhookSecret)); rec.Code != http.StatusBadRequest {
		t.Fatalf("tampered body: expected 400, got %d", rec.Code)
	}

	if got := s.donations(t); len(got) != 0 {
		t.Fatalf("expected nothing recorded, got %d donations", len(got))
	}
}

func TestStripeWebhook_RecordsEquipmentDonationOnce(t *testing.T) {
	s := newTestServer(t, testAdminSecret)
	item := s.addItem(t, "Laptops", "1200")
	payload := checkoutEvent(t, "checkout.session.completed", paidSession("cs_test_1", 54000, map[string]string{"equipmentId": item.ID}))

	for i := 0; i < 2; i++ {
		rec := s.deliver(t, payload, sign(payload, testWebhookSecret))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	donations := s.donations(t)
	if len(donations) != 1 {
		t.Fatalf("expected one donation after redelivery, got %d", len(donations))
	}
	d := donations[0]
	if !d.Amount.Equal(decimal.NewFromInt(540)) || d.PaymentReference != "cs_test_1" {
		t.Fatalf("unexpected donation %+v", d)
	}
	if d.DonorEmail != "ada@example.com" || d.DonorName != "Ada Lovelace" {
		t.Fatalf("expected donor from customer details, got %q <%s>", d.DonorName, d.DonorEmail)
	}

	view, _ := s.ledger.GetEquipment(context.Background(), item.ID)
	if view.Equipment.Progress != 45 {
		t.Fatalf("expected progress 45, got %d", view.Equipment.Progress)
	}
}

func TestStripeWebhook_ItemsAndCustomAmount(t *testing.T) {
	s := newTestServer(t, testAdminSecret)
	laptops := s.addItem(t, "Laptops", "1200")
	projector := s.addItem(t, "Projector", "300")
	books := s.addItem(t, "Books", "100")

	items, _ := json.Marshal([]map[string]any{
		{"id": laptops.ID, "name": "Laptops", "amount": 120},
		{"id": projector.ID, "name": "Projector", "amount": 30},
	})
	payload := checkoutEvent(t, "checkout.session.completed", paidSession("cs_multi", 17500, map[string]string{
		"items":        string(items),
		"customAmount": "25",
		"category":     "education",
		"city":         "Orlando",
		"donorName":    "Grace",
	}))

	rec := s.deliver(t, payload, sign(payload, testWebhookSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	refs := map[string]models.Donation{}
	for _, d := range s.donations(t) {
		refs[d.PaymentReference] = d
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 donations, got %d", len(refs))
	}
	if d := refs["cs_multi#"+laptops.ID]; d.EquipmentID != laptops.ID || !d.Amount.Equal(decimal.NewFromInt(120)) || d.DonorName != "Grace" {
		t.Fatalf("unexpected laptops donation %+v", d)
	}
	if d := refs["cs_multi#"+projector.ID]; d.EquipmentID != projector.ID || !d.Amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("unexpected projector donation %+v", d)
	}
	// after the item donations, books (0%) is the least funded education item in Orlando
	if d := refs["cs_multi#custom"]; d.EquipmentID != books.ID || !d.Amount.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("unexpected category donation %+v", d)
	}
}

func TestStripeWebhook_ZeroAmountItemsAreSkipped(t *testing.T) {
	s := newTestServer(t, testAdminSecret)
	laptops := s.addItem(t, "Laptops", "1200")
	books := s.addItem(t, "Books", "100")

	// selected items carry amount 0 when the donor typed a custom amount
	items, _ := json.Marshal([]map[string]any{
		{"id": laptops.ID, "name": "Laptops", "amount": 0},
		{"id": books.ID, "name": "Books", "amount": 0},
	})
	payload := checkoutEvent(t, "checkout.session.completed", paidSession("cs_custom_only", 4000, map[string]string{
		"items":        string(items),
		"customAmount": "40",
		"category":     "education",
		"city":         "Orlando",
	}))

	rec := s.deliver(t, payload, sign(payload, testWebhookSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	donations := s.donations(t)
	if len(donations) != 1 {
		t.Fatalf("expected only the custom amount to be recorded, got %d donations", len(donations))
	}
	d := donations[0]
	if d.PaymentReference != "cs_custom_only" || !d.Amount.Equal(decimal.NewFromInt(40)) || d.EquipmentID != laptops.ID {
		t.Fatalf("unexpected category donation %+v", d)
	}
}

func TestStripeWebhook_AcknowledgesWithoutRecording(t *testing.T) {
	s := newTestServer(t, testAdminSecret)
	item := s.addItem(t, "Laptops", "1200")

	unpaid := paidSession("cs_unpaid", 1000, map[string]string{"equipmentId": item.ID})
	unpaid["payment_status"] = "unpaid"

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "unpaid session", payload: checkoutEvent(t, "checkout.session.completed", unpaid)},
		{name: "unknown equipment", payload: checkoutEvent(t, "checkout.session.completed", paidSession("cs_lost", 1000, map[string]string{"equipmentId": "nonexistent-id"}))},
		{name: "other event type", payload: checkoutEvent(t, "customer.subscription.created", map[string]any{"id": "sub_1", "object": "subscription"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.deliver(t, tt.payload, sign(tt.payload, testWebhookSecret))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}

	if got := s.donations(t); len(got) != 0 {
		t.Fatalf("expected nothing recorded, got %d donations", len(got))
	}
}

func TestStripeWebhook_StorageFailureAsksForRedelivery(t *testing.T) {
	s := newTestServer(t, testAdminSecret)
	item := s.addItem(t, "Laptops", "1200")
	payload := checkoutEvent(t, "checkout.session.completed", paidSession("cs_retry", 54000, map[string]string{"equipmentId": item.ID}))

	s.store.saveErr = storage.WriteFailure(errors.New("disk full"))
	rec := s.deliver(t, payload, sign(payload, testWebhookSecret))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the gateway retries, got %d", rec.Code)
	}

	s.store.saveErr = nil
	rec = s.deliver(t, payload, sign(payload, testWebhookSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := s.donations(t); len(got) != 1 {
		t.Fatalf("expected the redelivered donation to be recorded once, got %d", len(got))
	}
}
