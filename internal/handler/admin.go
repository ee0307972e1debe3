package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/keymint/keymint/internal/license"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/store"
)

// AdminHandler serves the operator surface: manual issuance, inspection,
// device release, deactivation and deletion. Authentication happens in
// middleware, not here.
type AdminHandler struct {
	lifecycle *license.Service
	licenses  *store.LicenseStore
	logger    *slog.Logger
}

func NewAdminHandler(lifecycle *license.Service, licenses *store.LicenseStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{lifecycle: lifecycle, licenses: licenses, logger: logger}
}

type adminIssueRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	PlanType string `json:"planType"`
}

// HandleIssue mints a license outside the payment flow, for support comps
// and manual sales.
func (h *AdminHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	var req adminIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	plan, ok := model.ParsePlan(req.PlanType)
	if !ok {
		http.Error(w, "unknown planType", http.StatusBadRequest)
		return
	}

	lic, err := h.lifecycle.Issue(req.Email, req.Name, plan, "", "")
	if err != nil {
		h.logger.Error("manual issue failed", "error", err)
		http.Error(w, "issue failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("license issued manually", "key", lic.Key, "email", req.Email, "plan", plan)
	writeJSON(w, http.StatusCreated, lic)
}

func (h *AdminHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	lic, err := h.licenses.GetByKey(key)
	if err != nil {
		h.logger.Error("license lookup failed", "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if lic == nil {
		http.Error(w, "license not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, lic)
}

type adminListResponse struct {
	Licenses []*model.License `json:"licenses"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

func (h *AdminHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 50)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	licenses, err := h.licenses.List(page, pageSize)
	if err != nil {
		h.logger.Error("license list failed", "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	total, err := h.licenses.Count()
	if err != nil {
		h.logger.Error("license count failed", "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}

	if licenses == nil {
		licenses = []*model.License{}
	}
	writeJSON(w, http.StatusOK, adminListResponse{
		Licenses: licenses,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// HandleReleaseDevice unbinds a license from its device so the customer can
// activate on new hardware.
func (h *AdminHandler) HandleReleaseDevice(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if err := h.lifecycle.ReleaseDevice(key); err != nil {
		if errors.Is(err, license.ErrNotFound) {
			http.Error(w, "license not found", http.StatusNotFound)
			return
		}
		h.logger.Error("device release failed", "error", err, "key", key)
		http.Error(w, "release failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("device released", "key", key)
	writeJSON(w, http.StatusOK, map[string]bool{"released": true})
}

func (h *AdminHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if err := h.lifecycle.Deactivate(key); err != nil {
		if errors.Is(err, license.ErrNotFound) {
			http.Error(w, "license not found", http.StatusNotFound)
			return
		}
		h.logger.Error("deactivation failed", "error", err, "key", key)
		http.Error(w, "deactivation failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info("license deactivated", "key", key)
	writeJSON(w, http.StatusOK, map[string]bool{"deactivated": true})
}

func (h *AdminHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	deleted, err := h.licenses.Delete(key)
	if err != nil {
		h.logger.Error("deletion failed", "error", err, "key", key)
		http.Error(w, "deletion failed", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "license not found", http.StatusNotFound)
		return
	}

	h.logger.Info("license deleted", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
