package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	// Read-only fund and quote routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stats", handler.GetStats).Methods("GET")
	api.HandleFunc("/funds", handler.GetAllFunds).Methods("GET")
	api.HandleFunc("/funds/{id:[0-9]+}", handler.GetFund).Methods("GET")
	api.HandleFunc("/funds/{id:[0-9]+}/latest", handler.GetLatestQuote).Methods("GET")
	api.HandleFunc("/quotes", handler.GetQuotes).Methods("GET")

	return r
}
