package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/vkuznetsov/shopledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса магазина.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.RequestID)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/balance", h.GetBalance)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.RequireAdmin)

				r.Get("/orders/stats", h.OrderStats)
				r.Patch("/orders/{id}/status", h.UpdateOrderStatus)
				r.Put("/orders/{id}", h.UpdateOrder)
				r.Delete("/orders/{id}", h.DeleteOrder)

				r.Get("/users", h.ListUsers)
				r.Delete("/users/{id}", h.DeleteUser)
				r.Get("/users/{id}/balance", h.GetUserBalance)
				r.Put("/users/{id}/balance", h.AdjustUserBalance)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
