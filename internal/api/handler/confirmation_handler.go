package handler

import (
	"encoding/json"
	"net/http"

	"workbridge/internal/api/middleware"
	"workbridge/internal/app/service"
	"workbridge/internal/common"
	"workbridge/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type ConfirmationHandler struct {
	confirmationService *service.ConfirmationService
}

func NewConfirmationHandler(cs *service.ConfirmationService) *ConfirmationHandler {
	return &ConfirmationHandler{confirmationService: cs}
}

// RegisterJobRoutes mounts the code routes under /jobs/{jobID}/codes.
// Issuing and release verification are the client's; start verification is
// the assigned worker's. Workers never receive the codes themselves, only
// verification outcomes.
func (h *ConfirmationHandler) RegisterJobRoutes(r chi.Router) {
	r.Group(func(clientRouter chi.Router) {
		clientRouter.Use(middleware.RequireRole(model.RoleClient))
		clientRouter.Post("/", h.generateCodes)
		clientRouter.Post("/regenerate", h.regenerateCodes)
		clientRouter.Post("/verify-release", h.verifyReleaseCode)
	})
	r.With(middleware.RequireRole(model.RoleWorker)).Post("/verify-start", h.verifyStartCode)
}

// codeResponse is the client-facing projection of a confirmation record:
// only the code for the phase currently awaiting verification is included.
type codeResponse struct {
	JobID           string                   `json:"job_id"`
	Status          model.ConfirmationStatus `json:"status"`
	StartCode       string                   `json:"start_code,omitempty"`
	ReleaseCode     string                   `json:"release_code,omitempty"`
	StartAttempts   int                      `json:"start_attempts"`
	ReleaseAttempts int                      `json:"release_attempts"`
}

func projectForClient(code *model.ConfirmationCode) codeResponse {
	resp := codeResponse{
		JobID:           code.JobID,
		Status:          code.Status,
		StartAttempts:   code.StartAttempts,
		ReleaseAttempts: code.ReleaseAttempts,
	}
	switch code.Status {
	case model.ConfirmationStartPending:
		resp.StartCode = code.StartCode
	case model.ConfirmationReleasePending:
		resp.ReleaseCode = code.ReleaseCode
	}
	return resp
}

func (h *ConfirmationHandler) generateCodes(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	code, err := h.confirmationService.GenerateCodes(r.Context(), chi.URLParam(r, "jobID"), clientID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, projectForClient(code))
}

func (h *ConfirmationHandler) regenerateCodes(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	code, err := h.confirmationService.RegenerateCodes(r.Context(), chi.URLParam(r, "jobID"), clientID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, projectForClient(code))
}

type verifyCodeRequest struct {
	Code string `json:"code"`
}

func (h *ConfirmationHandler) verifyStartCode(w http.ResponseWriter, r *http.Request) {
	workerID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	job, err := h.confirmationService.VerifyStartCode(r.Context(), chi.URLParam(r, "jobID"), workerID, req.Code)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, job)
}

func (h *ConfirmationHandler) verifyReleaseCode(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	job, err := h.confirmationService.VerifyReleaseCode(r.Context(), chi.URLParam(r, "jobID"), clientID, req.Code)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, job)
}
