// internal/loyalty/handler.go
package loyalty

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storefront/internal/auth"
	"storefront/internal/errs"
)

type Handler struct {
	service  Service
	verifier *auth.Verifier
}

func NewHandler(service Service, verifier *auth.Verifier) *Handler {
	return &Handler{service: service, verifier: verifier}
}

// Routes mounts the loyalty endpoints. Balance mutations require an
// authenticated actor; the accrual endpoint serves the promotions checkout
// and account reads serve storefront pages, so both stay unguarded.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireActor(h.verifier))

		r.Post("/loyalty/{customerID}/transactions", h.handleRecordTransaction)
		r.Get("/loyalty/tiers", h.handleTierLadder)
	})

	r.Post("/loyalty/{customerID}/accruals", h.handleAwardOrderPoints)
	r.Get("/loyalty/{customerID}", h.handleGetAccount)
	r.Get("/loyalty/{customerID}/transactions", h.handleListTransactions)
}

type transactionRequest struct {
	Points      int64           `json:"points"`
	Type        TransactionType `json:"transaction_type"`
	Description string          `json:"description"`
	OrderID     *uuid.UUID      `json:"order_id,omitempty"`
}

func (h *Handler) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid customer ID"))
		return
	}

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid request body: %v", err))
		return
	}

	account, err := h.service.RecordTransaction(r.Context(), customerID, req.Points, req.Type, req.Description, req.OrderID)
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

type accrualRequest struct {
	Points  int64     `json:"points"`
	OrderID uuid.UUID `json:"order_id"`
}

func (h *Handler) handleAwardOrderPoints(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid customer ID"))
		return
	}

	var req accrualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid request body: %v", err))
		return
	}
	if req.OrderID == uuid.Nil {
		errs.WriteHTTP(w, errs.Validationf("order_id is required"))
		return
	}

	account, err := h.service.AwardOrderPoints(r.Context(), customerID, req.Points, req.OrderID)
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid customer ID"))
		return
	}

	account, err := h.service.GetAccount(r.Context(), customerID)
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	json.NewEncoder(w).Encode(account)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid customer ID"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.service.ListTransactions(r.Context(), customerID, limit, offset)
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	json.NewEncoder(w).Encode(entries)
}

func (h *Handler) handleTierLadder(w http.ResponseWriter, r *http.Request) {
	ladder, err := h.service.TierLadder(r.Context())
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	json.NewEncoder(w).Encode(ladder)
}
