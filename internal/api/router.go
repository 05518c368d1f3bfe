package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		// Public routes: the OAuth dance and the status probe manage their
		// own identity handling.
		r.Get("/auth/connect", apiHandler.ConnectHandler)
		r.Get("/auth/callback", apiHandler.CallbackHandler)
		r.Get("/auth/status", apiHandler.AuthStatusHandler)
		r.Post("/auth/logout", apiHandler.LogoutHandler)

		// Session-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.SessionMiddleware)

			r.Post("/query", apiHandler.QueryHandler)
			r.Get("/conversations", apiHandler.ListConversationsHandler)
			r.Get("/conversations/{conversationID}/messages", apiHandler.ListMessagesHandler)
			r.Delete("/conversations/{conversationID}", apiHandler.DeleteConversationHandler)
		})
	})

	return r
}
