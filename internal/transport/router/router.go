package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/rashedsumon/instagram-teaser/internal/transport/handler"
)

func NewRouter(h *handler.Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.Index)
	r.Get("/s/{hash}", h.ResolveShare)

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", h.Healthz)
		r.Post("/teasers", h.CreateTeaser)
		r.Get("/teasers", h.ListTeasers)
		r.Get("/teasers/{id}", h.GetTeaser)
		r.Post("/teasers/{id}/share", h.ShareTeaser)
		r.Post("/datasets", h.DownloadDataset)
	})

	return cors.AllowAll().Handler(r)
}
