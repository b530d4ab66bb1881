package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"meli-tracker-api/internal/model"
	"meli-tracker-api/internal/repository"
	"meli-tracker-api/internal/service"
)

type ListingHandler struct {
	repo    *repository.ListingRepo
	history *repository.PriceHistoryRepo
	ingest  *service.IngestService
}

func NewListingHandler(
	repo *repository.ListingRepo,
	history *repository.PriceHistoryRepo,
	ingest *service.IngestService,
) *ListingHandler {
	return &ListingHandler{
		repo:    repo,
		history: history,
		ingest:  ingest,
	}
}

// Ingest stores a listing and resolves its canonical vehicle. Re-posting a
// known marketplace listing updates it instead of duplicating it.
func (h *ListingHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req model.IngestListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	resp, err := h.ingest.Ingest(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if resp.CanonicalCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	l, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// UpdatePrice records a new price for a listing and refreshes its canonical
// vehicle's aggregates
func (h *ListingHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.UpdatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	listing, err := h.repo.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if err := h.ingest.UpdatePrice(ctx, listing, req.Price, req.PriceNumeric); err != nil {
		writeServiceError(w, err)
		return
	}

	updated, err := h.repo.GetByID(ctx, listing.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// PriceHistory returns the recorded price changes of a listing, newest first
func (h *ListingHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.repo.GetByID(ctx, id); err != nil {
		writeServiceError(w, err)
		return
	}

	limit := queryInt(r.URL.Query().Get("limit"), 50)
	changes, err := h.history.ListByListing(ctx, id, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if changes == nil {
		changes = []model.PriceChange{}
	}
	writeJSON(w, http.StatusOK, changes)
}
