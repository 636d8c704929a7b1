// internal/segments/handler.go
package segments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storefront/internal/auth"
	"storefront/internal/errs"
	"storefront/internal/rules"
)

type Handler struct {
	service  Service
	verifier *auth.Verifier
}

func NewHandler(service Service, verifier *auth.Verifier) *Handler {
	return &Handler{service: service, verifier: verifier}
}

// Routes mounts the segment endpoints. Mutations require an authenticated
// actor; reads and previews do not write anything but still go through the
// admin surface, so they are guarded too.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireActor(h.verifier))

		r.Post("/segments", h.handleCreateSegment)
		r.Get("/segments", h.handleListSegments)
		r.Post("/segments/preview", h.handlePreview)
		r.Get("/segments/{id}", h.handleGetSegment)
		r.Put("/segments/{id}", h.handleUpdateSegment)
		r.Delete("/segments/{id}", h.handleDeleteSegment)
		r.Post("/segments/{id}/refresh", h.handleRefresh)
	})

	// Membership lookups serve the promotions service.
	r.Get("/customers/{id}/segments", h.handleSegmentsForCustomer)
}

type segmentRequest struct {
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	Criteria    rules.Criteria `json:"criteria"`
	Version     int            `json:"version"`
}

func (h *Handler) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid request body: %v", err))
		return
	}

	seg, err := h.service.CreateSegment(r.Context(), req.Name, req.Description, req.Criteria)
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(seg)
}

func (h *Handler) handleUpdateSegment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid segment ID"))
		return
	}

	var req segmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid request body: %v", err))
		return
	}

	seg, err := h.service.UpdateSegment(r.Context(), id, req.Name, req.Description, req.Criteria, req.Version)
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	json.NewEncoder(w).Encode(seg)
}

func (h *Handler) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid segment ID"))
		return
	}

	seg, err := h.service.GetSegment(r.Context(), id)
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	json.NewEncoder(w).Encode(seg)
}

func (h *Handler) handleListSegments(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListSegments(r.Context())
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid segment ID"))
		return
	}

	if err := h.service.DeleteSegment(r.Context(), id); err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid segment ID"))
		return
	}

	count, err := h.service.Refresh(r.Context(), id)
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]int{"member_count": count})
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Criteria rules.Criteria `json:"criteria"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid request body: %v", err))
		return
	}

	preview, err := h.service.Preview(r.Context(), req.Criteria)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		errs.WriteHTTP(w, err)
		return
	}
	json.NewEncoder(w).Encode(preview)
}

func (h *Handler) handleSegmentsForCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.WriteHTTP(w, errs.Validationf("invalid customer ID"))
		return
	}

	ids, err := h.service.SegmentsForCustomer(r.Context(), id)
	if err != nil {
		errs.WriteHTTP(w, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	json.NewEncoder(w).Encode(map[string][]uuid.UUID{"segment_ids": ids})
}
