package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/campaigns/{campaignId}", func(r chi.Router) {
		r.Put("/", handler.UpsertCampaign)
		r.Get("/budget", handler.GetCampaignBudget)
		r.Get("/deals", handler.ListCampaignDeals)
	})

	r.Route("/deals", func(r chi.Router) {
		r.Post("/", handler.CreateDeal)
		r.Route("/{dealId}", func(r chi.Router) {
			r.Get("/", handler.GetDeal)
			r.Post("/respond", handler.RespondDeal)
			r.Post("/cancel", handler.CancelDeal)
			r.Post("/settle", handler.SettleDeal)
			r.Get("/payment", handler.GetPayment)
		})
	})

	r.Route("/payout-account", func(r chi.Router) {
		r.Get("/", handler.GetPayoutAccount)
		r.Post("/onboarding", handler.StartOnboarding)
	})

	r.Get("/events", handler.Events)

	return &Server{Router: r}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+PrincipalHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
