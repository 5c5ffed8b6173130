package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/ledger"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage"
)

const maxWebhookBytes = 64 << 10

// checkoutItem is one entry of the "items" metadata written when the checkout
// session was created. Amount is in major currency units.
type checkoutItem struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// WebhookHandler turns verified Stripe checkout notifications into ledger donations.
type WebhookHandler struct {
	ledger LedgerService
	secret string
	logger *slog.Logger
}

func NewWebhookHandler(service LedgerService, secret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{ledger: service, secret: secret, logger: logger.With("component", "stripe_webhook")}
}

// POST /webhooks/stripe
//
// 400 means the delivery is not trusted and nothing was recorded. 500 asks Stripe to
// redeliver: the ledger could not confirm the write. Everything else is acknowledged.
func (wh *WebhookHandler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: "could not read body"})
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_signature", Message: "missing Stripe-Signature header"})
		return
	}
	if wh.secret == "" {
		wh.logger.Error("webhook received but STRIPE_WEBHOOK_SECRET is not configured")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_signature", Message: "webhook verification is not configured"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, wh.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		wh.logger.Warn("webhook signature verification failed", "err", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_signature", Message: "invalid signature"})
		return
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			wh.logger.Error("checkout session payload could not be decoded", "event_id", event.ID, "err", err)
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: "malformed checkout session"})
			return
		}
		if err := wh.handleCheckoutSession(r.Context(), &session); err != nil {
			wh.logger.Error("checkout session could not be recorded; asking for redelivery", "event_id", event.ID, "session_id", session.ID, "retryable", storage.IsRetryable(err), "err", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Error:     "storage_unavailable",
				Message:   "donation could not be confirmed",
				Retryable: true,
			})
			return
		}
	default:
		wh.logger.Debug("unhandled event type", "event_id", event.ID, "type", string(event.Type))
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// handleCheckoutSession records every donation a paid session carries. It returns an
// error only for failures worth a redelivery; bad metadata is logged and dropped.
func (wh *WebhookHandler) handleCheckoutSession(ctx context.Context, session *stripe.CheckoutSession) error {
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		wh.logger.Info("checkout session not paid yet", "session_id", session.ID, "payment_status", string(session.PaymentStatus))
		return nil
	}

	meta := session.Metadata
	donorName, donorEmail := strings.TrimSpace(meta["donorName"]), strings.TrimSpace(meta["donorEmail"])
	if session.CustomerDetails != nil {
		if donorName == "" {
			donorName = session.CustomerDetails.Name
		}
		if donorEmail == "" {
			donorEmail = session.CustomerDetails.Email
		}
	}
	if donorEmail == "" {
		donorEmail = session.CustomerEmail
	}

	donations, category := wh.donationsFromMetadata(session, donorName, donorEmail)

	var errs []error
	for _, req := range donations {
		_, err := wh.ledger.RecordDonation(ctx, req)
		errs = append(errs, wh.triage(session.ID, req.EquipmentID, err))
	}
	if category != nil {
		_, err := wh.ledger.RecordCategoryDonation(ctx, *category)
		errs = append(errs, wh.triage(session.ID, category.Category, err))
	}
	if len(donations) == 0 && category == nil {
		wh.logger.Warn("paid checkout session carries no donation metadata", "session_id", session.ID)
	}
	return errors.Join(errs...)
}

func (wh *WebhookHandler) donationsFromMetadata(session *stripe.CheckoutSession, donorName, donorEmail string) ([]ledger.RecordDonationRequest, *ledger.CategoryDonationRequest) {
	meta := session.Metadata
	var donations []ledger.RecordDonationRequest

	if id := strings.TrimSpace(meta["equipmentId"]); id != "" {
		donations = append(donations, ledger.RecordDonationRequest{
			EquipmentID:      id,
			Amount:           decimal.New(session.AmountTotal, -2),
			DonorName:        donorName,
			DonorEmail:       donorEmail,
			PaymentReference: session.ID,
		})
	} else if raw := strings.TrimSpace(meta["items"]); raw != "" {
		var items []checkoutItem
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			wh.logger.Warn("items metadata is not valid JSON", "session_id", session.ID, "err", err)
		}
		// the category page sends selected items with amount 0 when the donor
		// only entered a custom amount
		var funded []checkoutItem
		for _, item := range items {
			if strings.TrimSpace(item.ID) != "" && item.Amount.IsPositive() {
				funded = append(funded, item)
			}
		}
		for _, item := range funded {
			reference := session.ID
			if len(funded) > 1 {
				reference = session.ID + "#" + item.ID
			}
			donations = append(donations, ledger.RecordDonationRequest{
				EquipmentID:      item.ID,
				Amount:           item.Amount,
				DonorName:        donorName,
				DonorEmail:       donorEmail,
				PaymentReference: reference,
			})
		}
	}

	var category *ledger.CategoryDonationRequest
	if custom, err := decimal.NewFromString(strings.TrimSpace(meta["customAmount"])); err == nil && custom.IsPositive() && strings.TrimSpace(meta["category"]) != "" {
		reference := session.ID
		if len(donations) > 0 {
			reference = session.ID + "#custom"
		}
		category = &ledger.CategoryDonationRequest{
			City:             meta["city"],
			Category:         meta["category"],
			Amount:           custom,
			DonorName:        donorName,
			DonorEmail:       donorEmail,
			PaymentReference: reference,
		}
	}
	return donations, category
}

// triage drops terminal ledger errors after logging them and keeps the rest.
func (wh *WebhookHandler) triage(sessionID, target string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrValidation) || errors.Is(err, ledger.ErrNotFound) {
		wh.logger.Error("paid donation rejected by the ledger; needs manual reconciliation", "session_id", sessionID, "target", target, "err", err)
		return nil
	}
	return err
}
