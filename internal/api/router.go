package api

import (
	"net/http"
	"time"

	"workbridge/internal/api/handler"
	"workbridge/internal/app/service"
	"workbridge/internal/common/security"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
)

func NewRouter(
	jobService *service.JobService,
	bidService *service.BidService,
	confirmationService *service.ConfirmationService,
	paymentService *service.PaymentService,
	penaltyService *service.PenaltyService,
) http.Handler {
	r := chi.NewRouter()

	// Base Middlewares
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Verifies the bearer token and puts claims in context; the
	// Authenticator middleware on protected subtrees enforces them.
	r.Use(jwtauth.Verifier(security.TokenAuth))

	// Public health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// API v1 Routes
	r.Route("/api/v1", func(v1 chi.Router) {
		jobHandler := handler.NewJobHandler(jobService)
		bidHandler := handler.NewBidHandler(bidService)
		confirmationHandler := handler.NewConfirmationHandler(confirmationService)
		paymentHandler := handler.NewPaymentHandler(paymentService)
		workerHandler := handler.NewWorkerHandler(penaltyService)

		v1.Route("/jobs", func(jobs chi.Router) {
			jobHandler.RegisterRoutes(jobs)
			jobs.Route("/{jobID}/bids", bidHandler.RegisterJobRoutes)
			jobs.Route("/{jobID}/codes", confirmationHandler.RegisterJobRoutes)
			jobs.Route("/{jobID}/escrow", paymentHandler.RegisterJobRoutes)
		})

		v1.Route("/bids", bidHandler.RegisterRoutes)
		v1.Route("/workers", workerHandler.RegisterRoutes)
		v1.Route("/ops", paymentHandler.RegisterOpsRoutes)
	})

	return r
}
