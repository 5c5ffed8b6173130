package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// ComputeProgress derives percent funded and the funded flag of one item from the
// donations linked to it. Voided donations do not count.
//
// progress = min(100, round(100 * sum / target)), rounding halves up. The rounding is
// done with an exact integer quotient, floor((200*sum + target) / (2*target)), so the
// result never depends on division precision.
func ComputeProgress(item models.EquipmentItem, donations []models.Donation) (int, bool, error) {
	if !item.Target.IsPositive() {
		return 0, false, ErrInvalidTarget
	}

	sum := TotalDonated(item.ID, donations)
	numerator := sum.Mul(hundred).Mul(two).Add(item.Target)
	quotient, _ := numerator.QuoRem(item.Target.Mul(two), 0)

	progress := ClampProgress(quotient.IntPart())
	return progress, progress >= 100, nil
}

// TotalDonated sums the non-voided donations of one equipment item.
func TotalDonated(equipmentID string, donations []models.Donation) decimal.Decimal {
	sum := decimal.Zero
	for _, d := range donations {
		if d.EquipmentID != equipmentID || d.Voided() {
			continue
		}
		sum = sum.Add(d.Amount)
	}
	return sum
}

// ClampProgress bounds a percentage to [0, 100].
func ClampProgress(p int64) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(p)
}
