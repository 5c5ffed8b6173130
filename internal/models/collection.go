package models

import "strings"

// Collection is the whole persisted ledger state: every equipment item and every donation.
// Version is bumped by the store on each successful save and is used to detect
// writers that loaded a stale copy.
type Collection struct {
	Equipment []EquipmentItem `json:"equipment"`
	Donations []Donation      `json:"donations"`
	Version   int64           `json:"version"`
}

// NewCollection returns the empty state used before anything was ever saved.
func NewCollection() Collection {
	return Collection{
		Equipment: []EquipmentItem{},
		Donations: []Donation{},
	}
}

// Clone returns a deep copy so callers can mutate it without touching the original.
func (c Collection) Clone() Collection {
	out := Collection{
		Equipment: make([]EquipmentItem, len(c.Equipment)),
		Donations: make([]Donation, len(c.Donations)),
		Version:   c.Version,
	}
	copy(out.Equipment, c.Equipment)
	for i, d := range c.Donations {
		if d.VoidedAt != nil {
			voidedAt := *d.VoidedAt
			d.VoidedAt = &voidedAt
		}
		out.Donations[i] = d
	}
	return out
}

// EquipmentIndex returns the position of the item with the given id, or -1.
func (c Collection) EquipmentIndex(id string) int {
	for i := range c.Equipment {
		if c.Equipment[i].ID == id {
			return i
		}
	}
	return -1
}

// DonationIndex returns the position of the donation with the given id, or -1.
func (c Collection) DonationIndex(id string) int {
	for i := range c.Donations {
		if c.Donations[i].ID == id {
			return i
		}
	}
	return -1
}

// DonationsFor returns the donations linked to one equipment item, voided ones included.
func (c Collection) DonationsFor(equipmentID string) []Donation {
	out := []Donation{}
	for _, d := range c.Donations {
		if d.EquipmentID == equipmentID {
			out = append(out, d)
		}
	}
	return out
}

// Filter keeps the equipment matching city and category (case-insensitive, empty
// means any) together with their donations.
func (c Collection) Filter(city, category string) Collection {
	city = strings.TrimSpace(city)
	category = strings.TrimSpace(category)
	if city == "" && category == "" {
		return c.Clone()
	}

	out := NewCollection()
	out.Version = c.Version
	kept := make(map[string]struct{})
	for _, item := range c.Equipment {
		if city != "" && !strings.EqualFold(item.City, city) {
			continue
		}
		if category != "" && !strings.EqualFold(item.Category, category) {
			continue
		}
		out.Equipment = append(out.Equipment, item)
		kept[item.ID] = struct{}{}
	}
	for _, d := range c.Donations {
		if _, ok := kept[d.EquipmentID]; ok {
			out.Donations = append(out.Donations, d)
		}
	}
	return out.Clone()
}
