package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"workbridge/internal/api/middleware"
	"workbridge/internal/app/service"
	"workbridge/internal/common"
	"workbridge/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type JobHandler struct {
	jobService *service.JobService
}

func NewJobHandler(js *service.JobService) *JobHandler {
	return &JobHandler{jobService: js}
}

func (h *JobHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)

	r.Get("/", h.listOpenJobs)       // GET /api/v1/jobs
	r.Get("/{jobID}", h.getJob)      // GET /api/v1/jobs/{id}
	r.Post("/{jobID}/cancel", h.cancelJob)

	r.Group(func(clientRouter chi.Router) {
		clientRouter.Use(middleware.RequireRole(model.RoleClient))
		clientRouter.Post("/", h.createJob)
		clientRouter.Post("/{jobID}/publish", h.publishJob)
	})
}

func (h *JobHandler) createJob(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	var req service.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	job, err := h.jobService.CreateJob(r.Context(), clientID, req)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, job)
}

func (h *JobHandler) publishJob(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	job, err := h.jobService.PublishJob(r.Context(), chi.URLParam(r, "jobID"), clientID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, job)
}

func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobService.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, job)
}

func (h *JobHandler) listOpenJobs(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	jobs, err := h.jobService.ListOpenJobs(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	type PaginatedJobsResponse struct {
		Jobs     []model.Job `json:"jobs"`
		Page     int         `json:"page"`
		PageSize int         `json:"page_size"`
	}
	common.RespondWithJSON(w, http.StatusOK, PaginatedJobsResponse{
		Jobs:     jobs,
		Page:     page,
		PageSize: pageSize,
	})
}

// cancelJob accepts the owning client or the assigned worker; the service
// decides which one the caller is and applies the penalty rules.
func (h *JobHandler) cancelJob(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	job, err := h.jobService.CancelJob(r.Context(), chi.URLParam(r, "jobID"), actorID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, job)
}
