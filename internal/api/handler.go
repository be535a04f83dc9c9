// Package api provides the HTTP API handlers and routing for the jobs service.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"orca/internal/apperrors"
	"orca/internal/health"
	"orca/internal/job"
	"orca/internal/orchestration"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	// maxRequestBodySize limits JSON bodies to 1MB to prevent memory exhaustion
	maxRequestBodySize = 1 << 20
	// maxFormBodySize leaves room for multipart bodies carrying a file part
	maxFormBodySize = 32 << 20

	serviceName = "orca"
)

// JobResponse is returned by submission and retrieval.
type JobResponse struct {
	JobID     string         `json:"job_id"`
	Status    job.Status     `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Message   string         `json:"message"`
	Results   map[string]any `json:"results,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// JobSummary is one entry of a listing.
type JobSummary struct {
	JobID      string     `json:"job_id"`
	Status     job.Status `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	HasResults bool       `json:"has_results"`
}

// ListResponse is returned by GET /api/v1/jobs.
type ListResponse struct {
	Jobs  []JobSummary `json:"jobs"`
	Count int          `json:"count"`
}

// ServiceInfo is returned by GET /api/v1/health.
type ServiceInfo struct {
	Status  health.Status `json:"status"`
	Service string        `json:"service"`
	Version string        `json:"version"`
}

// Handler contains HTTP handlers for the jobs API
type Handler struct {
	svc          *orchestration.Service
	health       *health.Checker
	listLimitMax int
	version      string
}

// NewHandler creates a new API handler
func NewHandler(svc *orchestration.Service, healthChecker *health.Checker, listLimitMax int, version string) *Handler {
	if listLimitMax <= 0 {
		listLimitMax = job.DefaultListLimit
	}
	return &Handler{
		svc:          svc,
		health:       healthChecker,
		listLimitMax: listLimitMax,
		version:      version,
	}
}

// SubmitJSON handles POST /api/v1/jobs/json
func (h *Handler) SubmitJSON(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req job.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	h.submit(w, r, &req)
}

// SubmitForm handles POST /api/v1/jobs with url-encoded or multipart fields.
func (h *Handler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)

	req, err := parseForm(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.submit(w, r, req)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, req *job.Request) {
	rec, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, &JobResponse{
		JobID:     rec.ID,
		Status:    rec.Status,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Message:   "Job created and queued for processing",
	})
}

// parseForm builds a request from form fields. Metadata is attached only
// when some field differs from its default.
func parseForm(r *http.Request) (*job.Request, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxRequestBodySize); err != nil {
			return nil, apperrors.Validation("body", "invalid multipart form: "+err.Error())
		}
		if r.MultipartForm != nil && len(r.MultipartForm.File["image_file"]) > 0 {
			return nil, apperrors.NotImplemented("image_file", "image file upload is not supported yet, provide image_url instead")
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, apperrors.Validation("body", "invalid form: "+err.Error())
	}

	req := &job.Request{
		JobID:      r.PostFormValue("job_id"),
		UserID:     r.PostFormValue("user_id"),
		TextPrompt: r.PostFormValue("text_prompt"),
		ImageURL:   r.PostFormValue("image_url"),
	}

	meta := &job.Meta{
		ProductName:     strings.TrimSpace(r.PostFormValue("product_name")),
		Locale:          strings.TrimSpace(r.PostFormValue("locale")),
		TargetPlatforms: job.SplitPlatforms(r.PostFormValue("target_platforms")),
	}
	if raw := strings.TrimSpace(r.PostFormValue("auto_publish")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, apperrors.Validation("auto_publish", fmt.Sprintf("auto_publish must be a boolean, got %q", raw))
		}
		meta.AutoPublish = v
	}
	if meta.ProductName != "" || (meta.Locale != "" && meta.Locale != job.DefaultLocale) ||
		len(meta.TargetPlatforms) > 0 || meta.AutoPublish {
		req.Meta = meta
	}
	return req, nil
}

// ListJobs handles GET /api/v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := job.ListOptions{Owner: q.Get("user_id"), Limit: job.DefaultListLimit}

	if raw := q.Get("status"); raw != "" {
		st, err := job.ParseStatus(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Status = st
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > h.listLimitMax {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be an integer between 1 and %d", h.listLimitMax))
			return
		}
		opts.Limit = limit
	}

	recs := h.svc.List(opts)
	resp := ListResponse{Jobs: make([]JobSummary, 0, len(recs)), Count: len(recs)}
	for _, rec := range recs {
		resp.Jobs = append(resp.Jobs, JobSummary{
			JobID:      rec.ID,
			Status:     rec.Status,
			CreatedAt:  rec.CreatedAt,
			UpdatedAt:  rec.UpdatedAt,
			HasResults: rec.HasResults(),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /api/v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	rec, err := h.svc.Get(jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := &JobResponse{
		JobID:     rec.ID,
		Status:    rec.Status,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Message:   "Job status: " + string(rec.Status),
		Results:   rec.Results,
	}
	if rec.Status == job.StatusFailed {
		resp.Error = rec.LastError()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// DeleteJob handles DELETE /api/v1/jobs/{jobId}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if err := h.svc.Delete(jobID); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, &ServiceInfo{
		Status:  health.StatusHealthy,
		Service: serviceName,
		Version: h.version,
	})
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 when a critical check fails; a degraded service stays ready.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 && status != http.StatusNotImplemented {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
