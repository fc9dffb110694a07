package handler

import (
	"net/http"
	"time"

	"workbridge/internal/api/middleware"
	"workbridge/internal/app/service"
	"workbridge/internal/common"
	"workbridge/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type WorkerHandler struct {
	penaltyService *service.PenaltyService
}

func NewWorkerHandler(ps *service.PenaltyService) *WorkerHandler {
	return &WorkerHandler{penaltyService: ps}
}

func (h *WorkerHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)

	r.With(middleware.RequireRole(model.RoleWorker)).Get("/me/penalty", h.myPenaltyStatus)
	r.With(middleware.OpsOnly).Get("/{workerID}/penalty", h.penaltyStatus)
}

func (h *WorkerHandler) myPenaltyStatus(w http.ResponseWriter, r *http.Request) {
	workerID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}
	h.respondPenalty(w, r, workerID)
}

func (h *WorkerHandler) penaltyStatus(w http.ResponseWriter, r *http.Request) {
	h.respondPenalty(w, r, chi.URLParam(r, "workerID"))
}

func (h *WorkerHandler) respondPenalty(w http.ResponseWriter, r *http.Request, workerID string) {
	worker, err := h.penaltyService.PenaltyStatus(r.Context(), workerID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	type PenaltyStatusResponse struct {
		WorkerID          string  `json:"worker_id"`
		CancellationCount int     `json:"cancellation_count"`
		Blocked           bool    `json:"blocked"`
		BlockedUntil      *string `json:"blocked_until,omitempty"`
	}
	resp := PenaltyStatusResponse{
		WorkerID:          worker.ID,
		CancellationCount: worker.CancellationCount,
	}
	if worker.BlockedUntil != nil {
		s := worker.BlockedUntil.UTC().Format(time.RFC3339)
		resp.BlockedUntil = &s
		resp.Blocked = worker.IsBlocked(time.Now())
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}
