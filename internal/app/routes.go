package app

import (
	"github.com/Septikai/obsidian-google-calendar-sync/pkg/google"
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {

	// Sync
	r.HandleFunc("/api/sync/refresh", deps.SyncHandler.Refresh).Methods("POST")
	r.HandleFunc("/api/sync/status", deps.SyncHandler.Status).Methods("GET")
	r.HandleFunc("/api/events", deps.SyncHandler.ListEvents).Methods("GET")

	// Google integration
	if deps.GoogleAuth != nil {
		r.HandleFunc("/api/integrations/google/auth/login", deps.GoogleAuth.OAuthLogin).Methods("GET")
		r.HandleFunc("/api/integrations/google/auth/logout", deps.GoogleAuth.OAuthLogout).Methods("DELETE")
		r.HandleFunc(google.CallbackPath, deps.GoogleAuth.OAuthCallback).Methods("GET")
		r.HandleFunc("/api/integrations/google/auth", deps.GoogleHandler.AuthStatus).Methods("GET")
		r.HandleFunc("/api/integrations/google/calendars", deps.GoogleHandler.ListCalendars).Methods("GET")
	}
}
