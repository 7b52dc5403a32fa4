package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/kipmyk/broadcast-service/internal/errors"
	"github.com/kipmyk/broadcast-service/internal/service"
)

// CampaignController exposes the campaign state machine over HTTP. Handlers
// only call service transitions; target rows are never mutated from here.
type CampaignController struct {
	CampaignService *service.CampaignService
	Scheduler       *service.SchedulerService
	Logger          *zap.Logger
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(in)
	if err != nil {
		c.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	status := r.URL.Query().Get("status")
	tone := r.URL.Query().Get("tone")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(page, pageSize, status, tone)
	if err != nil {
		c.writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) ResolveTargets(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}

	result, err := c.CampaignService.ResolveTargets(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (c *CampaignController) Preview(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}

	details, err := c.CampaignService.Preview(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, details)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}

	var body struct {
		RecipientID  int     `json:"recipient_id"`
		OverrideText *string `json:"override_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	rendered, err := c.CampaignService.PersonalizedPreview(id, body.RecipientID, body.OverrideText)
	if err != nil {
		c.writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"rendered_text": rendered,
		"recipient_id":  body.RecipientID,
	})
}

func (c *CampaignController) Schedule(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := c.CampaignService.Schedule(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, campaign)
}

func (c *CampaignController) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}

	details, err := c.CampaignService.Cancel(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, details)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}

	if err := c.CampaignService.DeleteCampaign(id); err != nil {
		c.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterActivity is the activity-trigger webhook: the surrounding system
// calls it when a recipient does something qualifying.
func (c *CampaignController) RegisterActivity(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid recipient id", http.StatusBadRequest)
		return
	}

	pulled, err := c.Scheduler.HandleActivity(id)
	if err != nil {
		c.writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"recipient_id":   id,
		"targets_pulled": pulled,
	})
}

func (c *CampaignController) campaignID(w http.ResponseWriter, r *http.Request) (int, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (c *CampaignController) writeError(w http.ResponseWriter, err error) {
	var invalidFilter *appErrors.ErrInvalidFilter
	var invalidTransition *appErrors.ErrInvalidTransition

	switch {
	case appErrors.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &invalidFilter):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &invalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		c.Logger.Error("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
