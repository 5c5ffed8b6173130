package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EquipmentItem represents a single funding need owned by a city
type EquipmentItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Target      decimal.Decimal `json:"target"`   // funding goal, always positive
	Progress    int             `json:"progress"` // percent funded in [0, 100]
	Funded      bool            `json:"funded"`
	Category    string          `json:"category"`
	City        string          `json:"city"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
}
