// Package api exposes the ledger over HTTP: typed REST routes, the legacy
// /api/donations action endpoint used by the existing front end, and the Stripe webhook.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/ledger"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/models"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/storage"
)

const maxBodyBytes = 1 << 20

// LedgerService is the subset of *ledger.Ledger the HTTP layer needs.
type LedgerService interface {
	ListAll(ctx context.Context) (models.Collection, error)
	GetEquipment(ctx context.Context, id string) (ledger.EquipmentView, error)
	AddEquipment(ctx context.Context, req ledger.AddEquipmentRequest) (models.EquipmentItem, error)
	UpdateEquipment(ctx context.Context, req ledger.UpdateEquipmentRequest) (models.EquipmentItem, error)
	RecordDonation(ctx context.Context, req ledger.RecordDonationRequest) (ledger.DonationReceipt, error)
	RecordCategoryDonation(ctx context.Context, req ledger.CategoryDonationRequest) (ledger.DonationReceipt, error)
	SetProgress(ctx context.Context, req ledger.SetProgressRequest) (models.EquipmentItem, error)
	VoidDonation(ctx context.Context, req ledger.VoidDonationRequest) (ledger.DonationReceipt, error)
}

type Handler struct {
	ledger LedgerService
	logger *slog.Logger
}

func NewHandler(service LedgerService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ledger: service, logger: logger.With("component", "api")}
}

// listResponse is the persisted layout without the internal version counter.
type listResponse struct {
	Equipment []models.EquipmentItem `json:"equipment"`
	Donations []models.Donation      `json:"donations"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /donations?city=&category=
func (h *Handler) handleListDonations(w http.ResponseWriter, r *http.Request) {
	collection, err := h.ledger.ListAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	collection = collection.Filter(r.URL.Query().Get("city"), r.URL.Query().Get("category"))
	writeJSON(w, http.StatusOK, listResponse{Equipment: collection.Equipment, Donations: collection.Donations})
}

// GET /api/donations
func (h *Handler) handleLegacyList(w http.ResponseWriter, r *http.Request) {
	collection, err := h.ledger.ListAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Equipment: collection.Equipment, Donations: collection.Donations})
}

func (h *Handler) handleGetEquipment(w http.ResponseWriter, r *http.Request) {
	view, err := h.ledger.GetEquipment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleAddEquipment(w http.ResponseWriter, r *http.Request) {
	var req ledger.AddEquipmentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.ledger.AddEquipment(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) handleUpdateEquipment(w http.ResponseWriter, r *http.Request) {
	var req ledger.UpdateEquipmentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.ID = chi.URLParam(r, "id")
	item, err := h.ledger.UpdateEquipment(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleSetProgress(w http.ResponseWriter, r *http.Request) {
	var req ledger.SetProgressRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.EquipmentID = chi.URLParam(r, "id")
	h.setProgress(w, r, req)
}

func (h *Handler) setProgress(w http.ResponseWriter, r *http.Request, req ledger.SetProgressRequest) {
	admin, _ := AdminFromContext(r.Context())
	h.logger.Info("manual progress override requested", "admin", admin, "equipment_id", req.EquipmentID, "progress", req.Progress)

	item, err := h.ledger.SetProgress(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleRecordDonation(w http.ResponseWriter, r *http.Request) {
	var req ledger.RecordDonationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.EquipmentID = chi.URLParam(r, "id")
	h.recordDonation(w, r, req)
}

func (h *Handler) recordDonation(w http.ResponseWriter, r *http.Request, req ledger.RecordDonationRequest) {
	receipt, err := h.ledger.RecordDonation(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, receipt)
}

func (h *Handler) handleVoidDonation(w http.ResponseWriter, r *http.Request) {
	var req ledger.VoidDonationRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.DonationID = chi.URLParam(r, "id")
	receipt, err := h.ledger.VoidDonation(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// legacyAction is the body of POST /api/donations. Data is decoded per action.
type legacyAction struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// POST /api/donations {action, data}
func (h *Handler) handleLegacyAction(w http.ResponseWriter, r *http.Request) {
	var body legacyAction
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(body.Data) == 0 {
		h.writeError(w, r, &ledger.ValidationError{Field: "data", Reason: "is required"})
		return
	}

	switch body.Action {
	case "addEquipment":
		var req ledger.AddEquipmentRequest
		if err := unmarshalData(body.Data, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		item, err := h.ledger.AddEquipment(r.Context(), req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case "updateEquipment":
		var req ledger.UpdateEquipmentRequest
		if err := unmarshalData(body.Data, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		item, err := h.ledger.UpdateEquipment(r.Context(), req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case "addDonation":
		var req ledger.RecordDonationRequest
		if err := unmarshalData(body.Data, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.recordDonation(w, r, req)

	default:
		h.writeError(w, r, &ledger.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", body.Action)})
	}
}

// PUT /api/donations {equipmentId, progress}
func (h *Handler) handleLegacySetProgress(w http.ResponseWriter, r *http.Request) {
	var req ledger.SetProgressRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setProgress(w, r, req)
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeError keeps "invalid input" apart from "could not be confirmed": only the
// latter is retryable, and a donation that hit it may still have been paid.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ledger.ValidationError
	var nf *ledger.NotFoundError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: verr.Error(), Field: verr.Field})
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: nf.Error()})
	case errors.Is(err, storage.ErrConcurrencyConflict):
		h.logger.Warn("request lost a write race", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:     "conflict",
			Message:   "the ledger changed while saving; please retry",
			Retryable: true,
		})
	default:
		retryable := storage.IsRetryable(err)
		h.logger.Error("ledger request failed", "path", r.URL.Path, "retryable", retryable, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:     "storage_unavailable",
			Message:   "your request could not be confirmed, please check back shortly",
			Retryable: retryable,
		})
	}
}

func decodeJSON(r *http.Request, dst any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	return unmarshalData(body, dst)
}

// decodeOptionalJSON leaves dst untouched when the body is empty.
func decodeOptionalJSON(r *http.Request, dst any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return unmarshalData(body, dst)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &ledger.ValidationError{Field: "body", Reason: "could not be read"}
	}
	if len(body) > maxBodyBytes {
		return nil, &ledger.ValidationError{Field: "body", Reason: "is too large"}
	}
	return body, nil
}

func unmarshalData(data []byte, dst any) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return &ledger.ValidationError{Field: "body", Reason: "is required"}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &ledger.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
