package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/service"
)

type Handler struct {
	jobSvc *service.JobService
}

func NewHandler(jobSvc *service.JobService) *Handler {
	return &Handler{jobSvc: jobSvc}
}

type submitJobDTO struct {
	Type        string  `json:"type" example:"products"`
	CategoryIDs []int64 `json:"category_ids,omitempty"`
	Priority    *int    `json:"priority,omitempty"` // 0=low,1=normal,2=high (nil => default 1)
	RequestedBy string  `json:"requested_by,omitempty"`
}

type submitJobResp struct {
	ID string `json:"id"`
}

type jobResp struct {
	ID             string           `json:"id"`
	ImporterID     int64            `json:"importer_id"`
	Type           entity.JobType   `json:"type"`
	Status         entity.JobStatus `json:"status"`
	Priority       int              `json:"priority"`
	Progress       int              `json:"progress"`
	TotalItems     int              `json:"total_items"`
	ProcessedItems int              `json:"processed_items"`
	Params         entity.JobParams `json:"params"`
	Result         json.RawMessage  `json:"result,omitempty" swaggertype:"object"`
	Error          *string          `json:"error,omitempty"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at"`
	StartedAt      *string          `json:"started_at,omitempty"`
	CompletedAt    *string          `json:"completed_at,omitempty"`
}

type logResp struct {
	Level     entity.LogLevel `json:"level"`
	Message   string          `json:"message"`
	CreatedAt string          `json:"created_at"`
}

func toJobResp(j *entity.Job) jobResp {
	resp := jobResp{
		ID:             j.ID.String(),
		ImporterID:     j.ImporterID,
		Type:           j.Type,
		Status:         j.Status,
		Priority:       j.Priority,
		Progress:       j.Progress,
		TotalItems:     j.TotalItems,
		ProcessedItems: j.ProcessedItems,
		Params:         j.Params,
		Error:          j.ErrorMessage,
		CreatedAt:      j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      j.UpdatedAt.Format(time.RFC3339),
		StartedAt:      formatTime(j.StartedAt),
		CompletedAt:    formatTime(j.CompletedAt),
	}
	if len(j.Result) > 0 {
		resp.Result = j.Result
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// SubmitImport godoc
// @Summary Submit an import job
// @Description Creates a pending job for the importer and enqueues it. Products jobs without category_ids use the importer's selected categories.
// @Tags jobs
// @Accept json
// @Produce json
// @Param name path string true "importer name" example(NORIEGA)
// @Param request body submitJobDTO true "job type: categories | products; priority: 0=low,1=normal,2=high"
// @Success 201 {object} submitJobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Failure 500 {object} apiError
// @Router /importers/{name}/jobs [post]
func (h *Handler) SubmitImport(w http.ResponseWriter, r *http.Request) {
	var dto submitJobDTO
	if err := readJSON(w, r, &dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	priority := 1
	if dto.Priority != nil {
		priority = *dto.Priority
	}

	id, err := h.jobSvc.SubmitImport(r.Context(), service.SubmitRequest{
		Importer:    chi.URLParam(r, "name"),
		Type:        entity.JobType(dto.Type),
		CategoryIDs: dto.CategoryIDs,
		Priority:    priority,
		RequestedBy: dto.RequestedBy,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitJobResp{ID: id.String()})
}

// GetJob godoc
// @Summary Get job by id
// @Description Status, progress counters and the result summary of a job.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobSvc.GetJob(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j))
}

// CancelJob godoc
// @Summary Cancel a job
// @Description A pending job is cancelled at once; a running job stops at its next checkpoint.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 202 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/cancel [post]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobSvc.CancelJob(r.Context(), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResp(j))
}

// JobLogs godoc
// @Summary Get job log entries
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param limit query int false "max entries (default 200, max 1000)"
// @Success 200 {array} logResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/logs [get]
func (h *Handler) JobLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.jobSvc.JobLogs(r.Context(), id, limit)
	if err != nil {
		writeServiceErr(w, err)
		return
	}

	resp := make([]logResp, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, logResp{Level: e.Level, Message: e.Message, CreatedAt: e.CreatedAt.Format(time.RFC3339)})
	}
	writeJSON(w, http.StatusOK, resp)
}
