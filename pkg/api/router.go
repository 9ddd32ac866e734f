package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appErrors "github.com/DNYoussef/fog-compute-sub001/internal/errors"
	"github.com/DNYoussef/fog-compute-sub001/pkg/controller"
	"github.com/DNYoussef/fog-compute-sub001/pkg/deployment"
	"github.com/DNYoussef/fog-compute-sub001/pkg/persistence"
)

// userIDHeader is a placeholder extraction point for the caller's
// identity; the core assumes upstream authentication has already
// resolved a user id onto the request (spec §1's "external auth" scope
// boundary). Handlers read it from a header until that layer is wired.
const userIDHeader = "X-User-ID"

// Handler mounts the deployment control plane's six endpoints (spec §6)
// under the given controller.
type Handler struct {
	controller *controller.Controller
	store      persistence.Store
}

// NewHandler builds a Handler.
func NewHandler(c *controller.Controller, store persistence.Store) *Handler {
	return &Handler{controller: c, store: store}
}

// Routes returns a chi.Router mounting every endpoint under the caller's
// chosen prefix (spec §6: "/api/deployment").
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Patch("/{id}/scale", h.scale)
	r.Delete("/{id}", h.delete)
	r.Get("/{id}/status-history", h.statusHistory)
	return r
}

type createBody struct {
	Name           string  `json:"name"`
	ContainerImage string  `json:"container_image"`
	TargetReplicas int     `json:"target_replicas"`
	TargetRegion   string  `json:"target_region"`
	CPUCores       float64 `json:"cpu_cores"`
	MemoryMB       int     `json:"memory_mb"`
	GPUUnits       int     `json:"gpu_units"`
	StorageGB      int     `json:"storage_gb"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, appErrors.NewValidationError("malformed request body"))
		return
	}

	d, err := h.controller.Create(r.Context(), deployment.CreateRequest{
		UserID: userID, Name: body.Name, ContainerImage: body.ContainerImage,
		TargetReplicas: body.TargetReplicas, TargetRegion: body.TargetRegion,
		CPUCores: body.CPUCores, MemoryMB: body.MemoryMB, GPUUnits: body.GPUUnits, StorageGB: body.StorageGB,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	filter := persistence.ListFilter{Limit: 50}
	q := r.URL.Query()
	if status := q.Get("status"); status != "" {
		filter.Status = deployment.Status(status)
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			writeError(w, appErrors.NewValidationError("limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}
	if offset := q.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			writeError(w, appErrors.NewValidationError("offset must be a non-negative integer"))
			return
		}
		filter.Offset = n
	}

	deployments, err := h.controller.List(r.Context(), userID, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

type deploymentDetail struct {
	deployment.Deployment
	Resource *deployment.Resource `json:"resource,omitempty"`
	Replicas []deployment.Replica `json:"replicas,omitempty"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, appErrors.NewValidationError("invalid deployment id"))
		return
	}

	d, err := h.controller.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	resource, err := h.store.GetResource(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	replicas, err := h.store.ListReplicas(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deploymentDetail{Deployment: *d, Resource: resource, Replicas: replicas})
}

type scaleBody struct {
	TargetReplicas int `json:"target_replicas"`
}

func (h *Handler) scale(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, appErrors.NewValidationError("invalid deployment id"))
		return
	}
	var body scaleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, appErrors.NewValidationError("malformed request body"))
		return
	}

	if err := h.controller.Scale(r.Context(), id, body.TargetReplicas); err != nil {
		writeError(w, err)
		return
	}

	d, err := h.controller.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, appErrors.NewValidationError("invalid deployment id"))
		return
	}
	userID, err := userIDFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.controller.Delete(r.Context(), id, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) statusHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, appErrors.NewValidationError("invalid deployment id"))
		return
	}
	if _, err := h.controller.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	history, err := h.store.ListStatusHistory(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(userIDHeader)
	if raw == "" {
		return uuid.UUID{}, appErrors.NewValidationError("missing " + userIDHeader + " header")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, appErrors.NewValidationError("invalid " + userIDHeader + " header")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := appErrors.GetStatusCode(err)
	writeJSON(w, status, map[string]string{"error": appErrors.SafeErrorMessage(err)})
}
