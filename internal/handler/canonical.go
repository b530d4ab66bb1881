package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"meli-tracker-api/internal/model"
	"meli-tracker-api/internal/repository"
	"meli-tracker-api/internal/service"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type CanonicalHandler struct {
	repo     *repository.CanonicalRepo
	listings *repository.ListingRepo
	grouping *service.GroupingService
	stats    *service.StatsService
}

func NewCanonicalHandler(
	repo *repository.CanonicalRepo,
	listings *repository.ListingRepo,
	grouping *service.GroupingService,
	stats *service.StatsService,
) *CanonicalHandler {
	return &CanonicalHandler{
		repo:     repo,
		listings: listings,
		grouping: grouping,
		stats:    stats,
	}
}

// List returns the paginated canonical vehicle catalog, optionally filtered
// by brand, model and year
func (h *CanonicalHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	page := queryInt(q.Get("page"), 1)
	pageSize := queryInt(q.Get("page_size"), defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	filter := repository.ListFilter{
		Brand: q.Get("brand"),
		Model: q.Get("model"),
		Year:  q.Get("year"),
	}

	vehicles, total, err := h.repo.List(ctx, page, pageSize, filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if vehicles == nil {
		vehicles = []model.CanonicalVehicle{}
	}

	totalPages := (total + pageSize - 1) / pageSize
	writeJSON(w, http.StatusOK, model.CanonicalVehiclePage{
		CanonicalVehicles: vehicles,
		TotalCount:        total,
		Page:              page,
		PageSize:          pageSize,
		TotalPages:        totalPages,
		HasNext:           page < totalPages,
		HasPrevious:       page > 1,
	})
}

func (h *CanonicalHandler) Get(w http.ResponseWriter, r *http.Request) {
	cv, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cv)
}

// Listings returns the member listings of a canonical vehicle, cheapest
// first. ?status= narrows to one lifecycle status.
func (h *CanonicalHandler) Listings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.repo.GetByID(ctx, id); err != nil {
		writeServiceError(w, err)
		return
	}

	listings, err := h.listings.ListByCanonical(ctx, id, r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

// UpdateStats triggers a manual aggregate recompute
func (h *CanonicalHandler) UpdateStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.stats.Refresh(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	cv, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cv)
}

// Merge folds the source canonical vehicle into the target
func (h *CanonicalHandler) Merge(w http.ResponseWriter, r *http.Request) {
	resp, err := h.grouping.Merge(r.Context(),
		chi.URLParam(r, "sourceID"), chi.URLParam(r, "targetID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
