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

type PaymentHandler struct {
	paymentService *service.PaymentService
}

func NewPaymentHandler(ps *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: ps}
}

// RegisterJobRoutes mounts the escrow routes under /jobs/{jobID}/escrow.
// Release has no route on purpose: payout is triggered by release-code
// verification, never called directly.
func (h *PaymentHandler) RegisterJobRoutes(r chi.Router) {
	r.With(middleware.RequireRole(model.RoleClient)).Post("/lock", h.lockEscrow)
}

// RegisterOpsRoutes mounts the operator routes under /ops.
func (h *PaymentHandler) RegisterOpsRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Use(middleware.OpsOnly)
	r.Get("/reconciliations", h.pendingReconciliations)
}

func (h *PaymentHandler) lockEscrow(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	var req service.LockEscrowRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
			return
		}
	}

	txn, err := h.paymentService.LockEscrow(r.Context(), chi.URLParam(r, "jobID"), clientID, req)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	// 202 when the gateway call was deferred to reconciliation.
	status := http.StatusOK
	if txn.Status == model.PaymentPendingEscrow {
		status = http.StatusAccepted
	}
	common.RespondWithJSON(w, status, txn)
}

func (h *PaymentHandler) pendingReconciliations(w http.ResponseWriter, r *http.Request) {
	pending, err := h.paymentService.PendingReconciliations(r.Context())
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]int64{"pending": pending})
}
