package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"
)

// AnonymousDonor is recorded when a donor leaves the name empty.
const AnonymousDonor = "Anonymous"

type AddEquipmentRequest struct {
	Name        string          `json:"name"`
	Target      decimal.Decimal `json:"target"`
	Category    string          `json:"category"`
	City        string          `json:"city"`
	Description string          `json:"description"`
}

func (r *AddEquipmentRequest) normalize() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Category = strings.TrimSpace(r.Category)
	r.City = strings.TrimSpace(r.City)
	r.Description = strings.TrimSpace(r.Description)

	if r.Name == "" {
		return invalid("name", "is required")
	}
	if !r.Target.IsPositive() {
		return ErrInvalidTarget
	}
	return nil
}

// UpdateEquipmentRequest carries the descriptive fields to merge into an item.
// Nil fields are left untouched. Progress is not editable here; see SetProgress.
type UpdateEquipmentRequest struct {
	ID          string           `json:"id"`
	Name        *string          `json:"name,omitempty"`
	Target      *decimal.Decimal `json:"target,omitempty"`
	Category    *string          `json:"category,omitempty"`
	City        *string          `json:"city,omitempty"`
	Description *string          `json:"description,omitempty"`
}

func (r *UpdateEquipmentRequest) normalize() error {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		return invalid("id", "is required")
	}
	trim := func(s *string) {
		if s != nil {
			*s = strings.TrimSpace(*s)
		}
	}
	trim(r.Name)
	trim(r.Category)
	trim(r.City)
	trim(r.Description)

	if r.Name != nil && *r.Name == "" {
		return invalid("name", "must not be empty")
	}
	if r.Target != nil && !r.Target.IsPositive() {
		return ErrInvalidTarget
	}
	return nil
}

type RecordDonationRequest struct {
	EquipmentID      string          `json:"equipmentId"`
	Amount           decimal.Decimal `json:"amount"`
	DonorName        string          `json:"donorName,omitempty"`
	DonorEmail       string          `json:"donorEmail,omitempty"`
	Message          string          `json:"message,omitempty"`
	PaymentReference string          `json:"paymentReference,omitempty"`
}

func (r *RecordDonationRequest) normalize() error {
	r.EquipmentID = strings.TrimSpace(r.EquipmentID)
	if r.EquipmentID == "" {
		return invalid("equipmentId", "is required")
	}
	return normalizeDonor(&r.Amount, &r.DonorName, &r.DonorEmail, &r.Message, &r.PaymentReference)
}

// CategoryDonationRequest is a donation aimed at a category of a city rather than
// at one item. The ledger attributes it to the least funded open item.
type CategoryDonationRequest struct {
	City             string          `json:"city"`
	Category         string          `json:"category"`
	Amount           decimal.Decimal `json:"amount"`
	DonorName        string          `json:"donorName,omitempty"`
	DonorEmail       string          `json:"donorEmail,omitempty"`
	Message          string          `json:"message,omitempty"`
	PaymentReference string          `json:"paymentReference,omitempty"`
}

func (r *CategoryDonationRequest) normalize() error {
	r.City = strings.TrimSpace(r.City)
	r.Category = strings.TrimSpace(r.Category)
	if r.Category == "" {
		return invalid("category", "is required")
	}
	return normalizeDonor(&r.Amount, &r.DonorName, &r.DonorEmail, &r.Message, &r.PaymentReference)
}

func (r CategoryDonationRequest) forItem(equipmentID string) RecordDonationRequest {
	return RecordDonationRequest{
		EquipmentID:      equipmentID,
		Amount:           r.Amount,
		DonorName:        r.DonorName,
		DonorEmail:       r.DonorEmail,
		Message:          r.Message,
		PaymentReference: r.PaymentReference,
	}
}

func normalizeDonor(amount *decimal.Decimal, name, email, message, reference *string) error {
	if !amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}
	*name = strings.TrimSpace(*name)
	if *name == "" {
		*name = AnonymousDonor
	}
	*email = strings.TrimSpace(*email)
	*message = strings.TrimSpace(*message)
	*reference = strings.TrimSpace(*reference)
	return nil
}

// SetProgressRequest is the administrative override of an item's progress.
type SetProgressRequest struct {
	EquipmentID string `json:"equipmentId"`
	Progress    int    `json:"progress"`
}

type VoidDonationRequest struct {
	DonationID string `json:"donationId"`
	Reason     string `json:"reason,omitempty"`
}

// DonationReceipt is the result of a donation write: the donation and the owning
// item as persisted. Replayed is set when the payment reference was already recorded
// and nothing was written.
type DonationReceipt struct {
	Donation  models.Donation      `json:"donation"`
	Equipment models.EquipmentItem `json:"equipment"`
	Replayed  bool                 `json:"replayed,omitempty"`
}

// EquipmentView is one item with its donations and the amount raised so far.
type EquipmentView struct {
	Equipment models.EquipmentItem `json:"equipment"`
	Donations []models.Donation    `json:"donations"`
	Raised    decimal.Decimal      `json:"raised"`
}
