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

type BidHandler struct {
	bidService *service.BidService
}

func NewBidHandler(bs *service.BidService) *BidHandler {
	return &BidHandler{bidService: bs}
}

// RegisterJobRoutes mounts the per-job bid routes under /jobs/{jobID}/bids.
func (h *BidHandler) RegisterJobRoutes(r chi.Router) {
	r.With(middleware.RequireRole(model.RoleWorker)).Post("/", h.placeBid)
	r.With(middleware.RequireRole(model.RoleClient)).Get("/", h.listBidsForJob)
}

// RegisterRoutes mounts the bid-addressed routes under /bids.
func (h *BidHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)

	r.With(middleware.RequireRole(model.RoleWorker)).Get("/me", h.listMyBids)
	r.With(middleware.RequireRole(model.RoleClient)).Post("/{bidID}/accept", h.acceptBid)
	r.With(middleware.RequireRole(model.RoleWorker)).Post("/{bidID}/handshake", h.handshake)
}

func (h *BidHandler) placeBid(w http.ResponseWriter, r *http.Request) {
	workerID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	var req service.PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	bid, err := h.bidService.PlaceBid(r.Context(), chi.URLParam(r, "jobID"), workerID, req)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, bid)
}

func (h *BidHandler) listBidsForJob(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	bids, err := h.bidService.ListBidsForJob(r.Context(), chi.URLParam(r, "jobID"), clientID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, bids)
}

func (h *BidHandler) listMyBids(w http.ResponseWriter, r *http.Request) {
	workerID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	bids, err := h.bidService.ListMyBids(r.Context(), workerID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, bids)
}

func (h *BidHandler) acceptBid(w http.ResponseWriter, r *http.Request) {
	clientID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	bid, err := h.bidService.AcceptBid(r.Context(), chi.URLParam(r, "bidID"), clientID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, bid)
}

func (h *BidHandler) handshake(w http.ResponseWriter, r *http.Request) {
	workerID, ok := middleware.GetActorIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Missing actor context")
		return
	}

	var req struct {
		Accepted bool `json:"accepted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	job, err := h.bidService.Handshake(r.Context(), chi.URLParam(r, "bidID"), workerID, req.Accepted)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, job)
}
