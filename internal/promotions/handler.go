// internal/promotions/handler.go
package promotions

import (
	"encoding/json"
	"net/http"
	"time"

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

// Routes mounts the promotion endpoints. Campaign management requires an
// authenticated actor; the checkout discount endpoints are called by the
// order pipeline and stay unguarded.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireActor(h.verifier))

		r.Post("/promotions", h.handleCreatePromotion)
		r.Get("/promotions", h.handleListPromotions)
		r.Get("/promotions/{id}", h.handleGetPromotion)
		r.Put("/promotions/{id}", h.handleUpdatePromotion)
		r.Delete("/promotions/{id}", h.handleDeletePromotion)
	})

	r.Post("/checkout/discounts", h.handleComputeDiscount)
	r.Post("/checkout/apply", h.handleApplyDiscounts)
}

func (h *Handler) handleCreatePromotion(w http.ResponseWriter, r *http.Request) {
	var p Promotion
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid request body: %v", err))
		return
	}

	created, err := h.service.CreatePromotion(r.Context(), &p)
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

func (h *Handler) handleUpdatePromotion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid promotion ID"))
		return
	}

	var p Promotion
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid request body: %v", err))
		return
	}

	updated, err := h.service.UpdatePromotion(r.Context(), id, &p, p.Version)
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	json.NewEncoder(w).Encode(updated)
}

func (h *Handler) handleGetPromotion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid promotion ID"))
		return
	}

	p, err := h.service.GetPromotion(r.Context(), id)
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	json.NewEncoder(w).Encode(p)
}

func (h *Handler) handleListPromotions(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListPromotions(r.Context())
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	if list == nil {
		list = []*Promotion{}
	}
	json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleDeletePromotion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid promotion ID"))
		return
	}

	if err := h.service.DeletePromotion(r.Context(), id); err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkoutRequest struct {
	Cart    Cart       `json:"cart"`
	OrderID *uuid.UUID `json:"order_id,omitempty"`
}

func (h *Handler) handleComputeDiscount(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid request body: %v", err))
		return
	}

	result, err := h.service.ComputeOrderDiscount(r.Context(), req.Cart, time.Now().UTC())
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleApplyDiscounts(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid request body: %v", err))
		return
	}
	if req.OrderID == nil {
		errs.WriteHTTP(w, errs.Validationf("order_id is required"))
		return
	}

	result, err := h.service.ApplyOrderDiscounts(r.Context(), req.Cart, *req.OrderID, time.Now().UTC())
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	json.NewEncoder(w).Encode(result)
}
