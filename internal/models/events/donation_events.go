package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicDonationRecorded = "donation_recorded"
	TopicDonationVoided   = "donation_voided"
	TopicEquipmentFunded  = "equipment_funded"
)

type DonationRecorded struct {
	DonationID       string          `json:"donation_id"`
	EquipmentID      string          `json:"equipment_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	Progress         int             `json:"progress"`
	Funded           bool            `json:"funded"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

type DonationVoided struct {
	DonationID  string          `json:"donation_id"`
	EquipmentID string          `json:"equipment_id"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason,omitempty"`
	Progress    int             `json:"progress"`
	Funded      bool            `json:"funded"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// EquipmentFunded is emitted once when an item crosses from unfunded to funded.
type EquipmentFunded struct {
	EquipmentID string          `json:"equipment_id"`
	Name        string          `json:"name"`
	City        string          `json:"city"`
	Category    string          `json:"category"`
	Target      decimal.Decimal `json:"target"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
