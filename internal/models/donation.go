package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Donation is a monetary contribution linked to exactly one equipment item
type Donation struct {
	ID               string          `json:"id"`
	EquipmentID      string          `json:"equipmentId"`
	Amount           decimal.Decimal `json:"amount"`
	DonorName        string          `json:"donorName"`
	DonorEmail       string          `json:"donorEmail"`
	Message          string          `json:"message"`
	PaymentReference string          `json:"paymentReference"` // checkout session that produced it, empty for manual entries
	CreatedAt        time.Time       `json:"createdAt"`
	VoidedAt         *time.Time      `json:"voidedAt,omitempty"`
	VoidReason       string          `json:"voidReason,omitempty"`
}

// Voided reports whether the donation was reversed and no longer counts toward progress.
func (d Donation) Voided() bool {
	return d.VoidedAt != nil
}

// UnmarshalJSON also accepts documents written by the first web app, which kept
// the checkout session under "stripeSessionId".
func (d *Donation) UnmarshalJSON(data []byte) error {
	type donation Donation
	aux := struct {
		*donation
		StripeSessionID string `json:"stripeSessionId"`
	}{donation: (*donation)(d)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if d.PaymentReference == "" {
		d.PaymentReference = strings.TrimSpace(aux.StripeSessionID)
	}
	return nil
}
