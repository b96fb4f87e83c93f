package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"coderoom/internal/api"
)

func New(h *api.Handlers, frontendOrigin string) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{frontendOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Get("/api/v1/healthz", h.Health)
	r.Get("/api/v1/languages", h.ListLanguages)
	r.Get("/api/v1/rooms/new", h.NewRoomID)
	r.Post("/api/v1/token", h.MintToken)
	r.Post("/api/v1/compile", h.Compile)

	r.Get("/ws", h.SessionWS)

	return r
}
