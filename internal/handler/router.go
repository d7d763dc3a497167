package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/envopro/envopro-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware платформы Envo-Pro.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/profile", h.GetProfile)
			r.Get("/earnings", h.GetEarnings)

			r.Post("/investments", h.SubmitInvestment)

			r.Put("/withdrawal-method", h.SaveWithdrawalMethod)
			r.Get("/withdrawal-method", h.GetWithdrawalMethod)

			r.Post("/withdrawals", h.Withdraw)
			r.Get("/withdrawals", h.GetWithdrawals)

			r.Get("/referrals", h.GetReferrals)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.AdminOnly)

		r.Get("/approvals", h.GetPendingInvestments)
		r.Post("/approvals/{id}", h.DecideInvestment)

		r.Get("/withdrawals", h.GetPendingWithdrawals)
		r.Post("/withdrawals/{id}", h.DecideWithdrawal)

		r.Get("/users", h.ListUsers)
		r.Post("/users/{id}/block", h.BlockUser)
		r.Patch("/users/{id}", h.AdjustUser)

		r.Get("/referrals", h.GetReferralReport)
	})

	r.Post("/api/daily-earnings", h.TriggerDailyEarnings)
	r.Get("/api/daily-earnings", h.DailyEarningsStatus)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
