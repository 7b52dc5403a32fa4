package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/kipmyk/broadcast-service/internal/errors"
	"github.com/kipmyk/broadcast-service/internal/repository"
	"github.com/kipmyk/broadcast-service/internal/service"
)

// CampaignHandler serves the read-only reporting surface: campaign details
// with stats, the target-level delivery report and the recipient listing.
type CampaignHandler struct {
	Service       *service.CampaignService
	RecipientRepo repository.RecipientRepositoryInterface
	Logger        *zap.Logger
}

// GetCampaignWithStats returns a campaign and its per-status target counts.
// Counters are eventually consistent; this never blocks on in-flight sends.
func (h *CampaignHandler) GetCampaignWithStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}

// GetDeliveryReport lists the campaign's targets with their delivery state.
func (h *CampaignHandler) GetDeliveryReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	page := 1
	pageSize := 50
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}

	targets, pagination, err := h.Service.Report(id, page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":       targets,
		"pagination": pagination,
	})
}

// ListRecipients exposes the directory for the admin surface.
func (h *CampaignHandler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	page := 1
	pageSize := 50
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}

	recipients, total, err := h.RecipientRepo.ListAll((page-1)*pageSize, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":        recipients,
		"total_count": total,
	})
}

func (h *CampaignHandler) writeError(w http.ResponseWriter, err error) {
	if appErrors.IsNotFound(err) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.Logger.Error("report request failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
