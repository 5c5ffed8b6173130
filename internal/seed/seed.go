// Package seed loads equipment catalogs from YAML and adds the missing items
// through the ledger.
//
//	equipment:
//	  - name: Laptops
//	    target: "1200"
//	    category: Education
//	    city: Orlando
//	    description: Laptops for the coding club
package seed

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/ledger"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"
)

type Item struct {
	Name        string `yaml:"name"`
	Target      string `yaml:"target"`
	Category    string `yaml:"category"`
	City        string `yaml:"city"`
	Description string `yaml:"description"`
}

type File struct {
	Equipment []Item `yaml:"equipment"`
}

// Ledger is what Apply needs from *ledger.Ledger.
type Ledger interface {
	ListAll(ctx context.Context) (models.Collection, error)
	AddEquipment(ctx context.Context, req ledger.AddEquipmentRequest) (models.EquipmentItem, error)
}

type Result struct {
	Added   []models.EquipmentItem
	Skipped []string
}

// Parse decodes a seed document. Unknown fields are rejected so typos surface early.
func Parse(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return File{}, nil
		}
		return File{}, fmt.Errorf("parse seed file: %w", err)
	}
	return f, nil
}

// Apply adds every item whose name and city (case-insensitive) are not in the
// ledger yet. It stops at the first item the ledger rejects.
func Apply(ctx context.Context, l Ledger, f File) (Result, error) {
	existing, err := l.ListAll(ctx)
	if err != nil {
		return Result{}, err
	}
	seen := make(map[string]bool, len(existing.Equipment))
	for _, item := range existing.Equipment {
		seen[identity(item.Name, item.City)] = true
	}

	var res Result
	for i, item := range f.Equipment {
		key := identity(item.Name, item.City)
		if seen[key] {
			res.Skipped = append(res.Skipped, item.Name)
			continue
		}

		target, err := decimal.NewFromString(strings.TrimSpace(item.Target))
		if err != nil {
			return res, fmt.Errorf("equipment[%d] %q: invalid target %q", i, item.Name, item.Target)
		}
		added, err := l.AddEquipment(ctx, ledger.AddEquipmentRequest{
			Name:        item.Name,
			Target:      target,
			Category:    item.Category,
			City:        item.City,
			Description: item.Description,
		})
		if err != nil {
			return res, fmt.Errorf("equipment[%d] %q: %w", i, item.Name, err)
		}
		seen[key] = true
		res.Added = append(res.Added, added)
	}
	return res, nil
}

func identity(name, city string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(city))
}
