package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	interfaces "github.com/sheikh-saqib/equipment-funding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models/events"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = 50 * time.Millisecond
)

// Ledger is the only mutation surface of the equipment store.
// Every write runs load -> mutate -> save as one critical section under mu, so
// concurrent donations never overwrite each other. A version conflict reported by
// the store (another process saved in between) restarts the whole cycle.
type Ledger struct {
	store     interfaces.LedgerStore    // whole-collection storage, any backend
	publisher interfaces.EventPublisher // optional, nil disables domain events
	logger    *slog.Logger
	mu        sync.Mutex // serializes load-mutate-save

	categories map[string]string // lower-cased name -> canonical name, empty means open
	maxRetries int
	backoff    time.Duration

	now   func() time.Time
	newID func() string
}

// NewLedger creates a Ledger over the given store.
// publisher may be nil.
func NewLedger(store interfaces.LedgerStore, publisher interfaces.EventPublisher, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:      store,
		publisher:  publisher,
		logger:     logger.With("component", "ledger"),
		categories: map[string]string{},
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      newID,
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// RestrictCategories turns category into a closed set. An empty list keeps it open.
func (l *Ledger) RestrictCategories(categories []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.categories = map[string]string{}
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c != "" {
			l.categories[strings.ToLower(c)] = c
		}
	}
}

// ConfigureRetries sets how many times a conflicting write is retried and the
// initial backoff between attempts (doubled each time).
func (l *Ledger) ConfigureRetries(maxRetries int, backoff time.Duration) {
	if maxRetries >= 0 {
		l.maxRetries = maxRetries
	}
	if backoff > 0 {
		l.backoff = backoff
	}
}

// ListAll returns every equipment item and donation, unfiltered.
func (l *Ledger) ListAll(ctx context.Context) (models.Collection, error) {
	return l.store.Load(ctx)
}

// GetEquipment returns one item with its donations and the amount raised.
func (l *Ledger) GetEquipment(ctx context.Context, id string) (EquipmentView, error) {
	collection, err := l.store.Load(ctx)
	if err != nil {
		return EquipmentView{}, err
	}
	idx := collection.EquipmentIndex(strings.TrimSpace(id))
	if idx < 0 {
		return EquipmentView{}, equipmentNotFound(id)
	}
	item := collection.Equipment[idx]
	return EquipmentView{
		Equipment: item,
		Donations: collection.DonationsFor(item.ID),
		Raised:    TotalDonated(item.ID, collection.Donations),
	}, nil
}

// AddEquipment validates and appends a new unfunded item.
func (l *Ledger) AddEquipment(ctx context.Context, req AddEquipmentRequest) (models.EquipmentItem, error) {
	if err := req.normalize(); err != nil {
		return models.EquipmentItem{}, err
	}

	item := models.EquipmentItem{
		ID:          l.newID(),
		Name:        req.Name,
		Target:      req.Target,
		Progress:    0,
		Funded:      false,
		City:        req.City,
		Description: req.Description,
		CreatedAt:   l.now(),
	}

	err := l.mutate(ctx, func(c *models.Collection) (bool, error) {
		category, err := l.checkCategory(req.Category)
		if err != nil {
			return false, err
		}
		item.Category = category
		c.Equipment = append(c.Equipment, item)
		return true, nil
	})
	if err != nil {
		return models.EquipmentItem{}, err
	}

	l.logger.Info("equipment added", "equipment_id", item.ID, "city", item.City, "category", item.Category, "target", item.Target.String())
	return item, nil
}

// UpdateEquipment merges descriptive fields into an existing item. A target change
// recomputes progress against the donations already recorded, which may move the
// item back to unfunded.
func (l *Ledger) UpdateEquipment(ctx context.Context, req UpdateEquipmentRequest) (models.EquipmentItem, error) {
	if err := req.normalize(); err != nil {
		return models.EquipmentItem{}, err
	}

	var updated models.EquipmentItem
	var wasFunded bool
	err := l.mutate(ctx, func(c *models.Collection) (bool, error) {
		idx := c.EquipmentIndex(req.ID)
		if idx < 0 {
			return false, equipmentNotFound(req.ID)
		}
		item := &c.Equipment[idx]
		wasFunded = item.Funded

		if req.Name != nil {
			item.Name = *req.Name
		}
		if req.Category != nil {
			category, err := l.checkCategory(*req.Category)
			if err != nil {
				return false, err
			}
			item.Category = category
		}
		if req.City != nil {
			item.City = *req.City
		}
		if req.Description != nil {
			item.Description = *req.Description
		}
		if req.Target != nil && !req.Target.Equal(item.Target) {
			item.Target = *req.Target
			if err := recompute(c, idx); err != nil {
				return false, err
			}
		}
		updated = *item
		return true, nil
	})
	if err != nil {
		return models.EquipmentItem{}, err
	}

	l.logger.Info("equipment updated", "equipment_id", updated.ID, "progress", updated.Progress, "funded", updated.Funded)
	if !wasFunded && updated.Funded {
		l.publishFunded(ctx, updated)
	}
	return updated, nil
}

// RecordDonation appends a donation to an item and recomputes its progress. The
// donation and the new progress are persisted by the same save.
// A payment reference that was already recorded returns the stored receipt with
// Replayed set and writes nothing.
func (l *Ledger) RecordDonation(ctx context.Context, req RecordDonationRequest) (DonationReceipt, error) {
	if err := req.normalize(); err != nil {
		return DonationReceipt{}, err
	}

	donationID := l.newID()
	var receipt DonationReceipt
	var wasFunded bool
	err := l.mutate(ctx, func(c *models.Collection) (bool, error) {
		if replay, ok := findReplay(c, req.PaymentReference); ok {
			receipt = replay
			return false, nil
		}

		idx := c.EquipmentIndex(req.EquipmentID)
		if idx < 0 {
			return false, equipmentNotFound(req.EquipmentID)
		}
		wasFunded = c.Equipment[idx].Funded

		var err error
		receipt, err = l.appendDonation(c, idx, donationID, req)
		return err == nil, err
	})
	if err != nil {
		return DonationReceipt{}, err
	}

	l.afterDonation(ctx, receipt, wasFunded)
	return receipt, nil
}

// RecordCategoryDonation attributes a donation made to a whole category to the open
// item of that city and category with the lowest progress, oldest first on ties.
func (l *Ledger) RecordCategoryDonation(ctx context.Context, req CategoryDonationRequest) (DonationReceipt, error) {
	if err := req.normalize(); err != nil {
		return DonationReceipt{}, err
	}

	donationID := l.newID()
	var receipt DonationReceipt
	var wasFunded bool
	err := l.mutate(ctx, func(c *models.Collection) (bool, error) {
		if replay, ok := findReplay(c, req.PaymentReference); ok {
			receipt = replay
			return false, nil
		}

		idx := pickCategoryItem(c, req.City, req.Category)
		if idx < 0 {
			return false, &NotFoundError{Kind: "open equipment in category", ID: strings.TrimSpace(req.Category + " " + req.City)}
		}
		wasFunded = c.Equipment[idx].Funded

		var err error
		receipt, err = l.appendDonation(c, idx, donationID, req.forItem(c.Equipment[idx].ID))
		return err == nil, err
	})
	if err != nil {
		return DonationReceipt{}, err
	}

	l.afterDonation(ctx, receipt, wasFunded)
	return receipt, nil
}

// SetProgress is an administrative escape hatch that overwrites an item's progress
// without looking at donations. The override is not sticky: the next recorded or
// voided donation recomputes progress from the donation sum and replaces it.
func (l *Ledger) SetProgress(ctx context.Context, req SetProgressRequest) (models.EquipmentItem, error) {
	id := strings.TrimSpace(req.EquipmentID)
	if id == "" {
		return models.EquipmentItem{}, invalid("equipmentId", "is required")
	}
	progress := ClampProgress(int64(req.Progress))

	var updated models.EquipmentItem
	var wasFunded bool
	err := l.mutate(ctx, func(c *models.Collection) (bool, error) {
		idx := c.EquipmentIndex(id)
		if idx < 0 {
			return false, equipmentNotFound(id)
		}
		item := &c.Equipment[idx]
		wasFunded = item.Funded
		item.Progress = progress
		item.Funded = progress >= 100
		updated = *item
		return true, nil
	})
	if err != nil {
		return models.EquipmentItem{}, err
	}

	l.logger.Warn("progress overridden", "equipment_id", updated.ID, "progress", updated.Progress, "requested", req.Progress)
	if !wasFunded && updated.Funded {
		l.publishFunded(ctx, updated)
	}
	return updated, nil
}

// VoidDonation reverses a donation (for example a refund). The record is kept with
// voidedAt set and stops counting toward its item's progress.
func (l *Ledger) VoidDonation(ctx context.Context, req VoidDonationRequest) (DonationReceipt, error) {
	id := strings.TrimSpace(req.DonationID)
	if id == "" {
		return DonationReceipt{}, invalid("donationId", "is required")
	}
	reason := strings.TrimSpace(req.Reason)

	var receipt DonationReceipt
	err := l.mutate(ctx, func(c *models.Collection) (bool, error) {
		didx := c.DonationIndex(id)
		if didx < 0 {
			return false, &NotFoundError{Kind: "donation", ID: id}
		}
		donation := &c.Donations[didx]
		if donation.Voided() {
			return false, invalid("donationId", "donation is already voided")
		}
		voidedAt := l.now()
		donation.VoidedAt = &voidedAt
		donation.VoidReason = reason

		idx := c.EquipmentIndex(donation.EquipmentID)
		if idx < 0 {
			return false, equipmentNotFound(donation.EquipmentID)
		}
		if err := recompute(c, idx); err != nil {
			return false, err
		}
		receipt = DonationReceipt{Donation: *donation, Equipment: c.Equipment[idx]}
		return true, nil
	})
	if err != nil {
		return DonationReceipt{}, err
	}

	l.logger.Info("donation voided", "donation_id", receipt.Donation.ID, "equipment_id", receipt.Equipment.ID, "progress", receipt.Equipment.Progress)
	l.publish(ctx, events.TopicDonationVoided, receipt.Equipment.ID, events.DonationVoided{
		DonationID:  receipt.Donation.ID,
		EquipmentID: receipt.Equipment.ID,
		Amount:      receipt.Donation.Amount,
		Reason:      receipt.Donation.VoidReason,
		Progress:    receipt.Equipment.Progress,
		Funded:      receipt.Equipment.Funded,
		OccurredAt:  *receipt.Donation.VoidedAt,
	})
	return receipt, nil
}

// mutate runs fn against a freshly loaded copy of the collection and saves the
// result when fn reports a change. Nothing is visible to other readers unless the
// save succeeds.
func (l *Ledger) mutate(ctx context.Context, fn func(c *models.Collection) (bool, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	backoff := l.backoff
	for attempt := 0; ; attempt++ {
		collection, err := l.store.Load(ctx)
		if err != nil {
			return err
		}

		changed, err := fn(&collection)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		err = l.store.Save(ctx, collection)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConcurrencyConflict) || attempt >= l.maxRetries {
			if errors.Is(err, storage.ErrConcurrencyConflict) {
				l.logger.Error("write conflict retries exhausted", "attempts", attempt+1, "err", err)
			}
			return err
		}

		l.logger.Warn("write conflict, retrying", "attempt", attempt+1, "err", err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff *= 2
	}
}

func (l *Ledger) appendDonation(c *models.Collection, idx int, donationID string, req RecordDonationRequest) (DonationReceipt, error) {
	donation := models.Donation{
		ID:               donationID,
		EquipmentID:      c.Equipment[idx].ID,
		Amount:           req.Amount,
		DonorName:        req.DonorName,
		DonorEmail:       req.DonorEmail,
		Message:          req.Message,
		PaymentReference: req.PaymentReference,
		CreatedAt:        l.now(),
	}
	c.Donations = append(c.Donations, donation)

	if err := recompute(c, idx); err != nil {
		return DonationReceipt{}, err
	}
	return DonationReceipt{Donation: donation, Equipment: c.Equipment[idx]}, nil
}

func (l *Ledger) afterDonation(ctx context.Context, receipt DonationReceipt, wasFunded bool) {
	if receipt.Replayed {
		l.logger.Info("donation replay ignored", "payment_reference", receipt.Donation.PaymentReference, "donation_id", receipt.Donation.ID)
		return
	}

	l.logger.Info("donation recorded",
		"donation_id", receipt.Donation.ID,
		"equipment_id", receipt.Equipment.ID,
		"amount", receipt.Donation.Amount.String(),
		"progress", receipt.Equipment.Progress,
		"funded", receipt.Equipment.Funded,
	)
	l.publish(ctx, events.TopicDonationRecorded, receipt.Equipment.ID, events.DonationRecorded{
		DonationID:       receipt.Donation.ID,
		EquipmentID:      receipt.Equipment.ID,
		Amount:           receipt.Donation.Amount,
		PaymentReference: receipt.Donation.PaymentReference,
		Progress:         receipt.Equipment.Progress,
		Funded:           receipt.Equipment.Funded,
		OccurredAt:       receipt.Donation.CreatedAt,
	})
	if !wasFunded && receipt.Equipment.Funded {
		l.publishFunded(ctx, receipt.Equipment)
	}
}

func (l *Ledger) publishFunded(ctx context.Context, item models.EquipmentItem) {
	l.publish(ctx, events.TopicEquipmentFunded, item.ID, events.EquipmentFunded{
		EquipmentID: item.ID,
		Name:        item.Name,
		City:        item.City,
		Category:    item.Category,
		Target:      item.Target,
		OccurredAt:  l.now(),
	})
}

// publish is best effort: the write already succeeded and must not be reported as failed.
func (l *Ledger) publish(ctx context.Context, topic, key string, event any) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, topic, key, event); err != nil {
		l.logger.Error("event publish failed", "topic", topic, "key", key, "err", err)
	}
}

// checkCategory returns the canonical spelling of category, or a validation error
// when categories are restricted and it is not one of them.
func (l *Ledger) checkCategory(category string) (string, error) {
	category = strings.TrimSpace(category)
	if len(l.categories) == 0 {
		return category, nil
	}
	canonical, ok := l.categories[strings.ToLower(category)]
	if !ok {
		allowed := make([]string, 0, len(l.categories))
		for _, c := range l.categories {
			allowed = append(allowed, c)
		}
		sort.Strings(allowed)
		return "", invalid("category", "must be one of: "+strings.Join(allowed, ", "))
	}
	return canonical, nil
}

// recompute re-establishes progress and funded for the item at idx from the donations.
func recompute(c *models.Collection, idx int) error {
	progress, funded, err := ComputeProgress(c.Equipment[idx], c.Donations)
	if err != nil {
		return err
	}
	c.Equipment[idx].Progress = progress
	c.Equipment[idx].Funded = funded
	return nil
}

// findReplay matches voided donations too: a redelivered payment that was
// refunded must not be counted again.
func findReplay(c *models.Collection, paymentReference string) (DonationReceipt, bool) {
	if paymentReference == "" {
		return DonationReceipt{}, false
	}
	for _, d := range c.Donations {
		if d.PaymentReference != paymentReference {
			continue
		}
		receipt := DonationReceipt{Donation: d, Replayed: true}
		if idx := c.EquipmentIndex(d.EquipmentID); idx >= 0 {
			receipt.Equipment = c.Equipment[idx]
		}
		return receipt, true
	}
	return DonationReceipt{}, false
}

func pickCategoryItem(c *models.Collection, city, category string) int {
	best := -1
	for i, item := range c.Equipment {
		if item.Funded || !strings.EqualFold(item.Category, category) {
			continue
		}
		if city != "" && !strings.EqualFold(item.City, city) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		current := c.Equipment[best]
		switch {
		case item.Progress < current.Progress:
			best = i
		case item.Progress == current.Progress && item.CreatedAt.Before(current.CreatedAt):
			best = i
		}
	}
	return best
}
