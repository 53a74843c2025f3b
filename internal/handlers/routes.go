package handlers

import (
	"net/http"

	mw "imagevault/internal/middleware"
	"imagevault/internal/services"
	"imagevault/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the JSON API, static image files and the event socket.
func NewRouter(library *services.Library, hub *ws.Hub, imageDir, thumbDir string, log logrus.FieldLogger) http.Handler {
	uploadHandler := NewUploadHandler(library, log)
	feedHandler := NewFeedHandler(library, log)
	imageHandler := NewImageHandler(library, imageDir, thumbDir, log)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(mw.CorsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Static files
	r.Handle("/uploads/*", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(imageDir))))
	r.Handle("/thumbnails/*", http.StripPrefix("/thumbnails/",
		http.FileServer(http.Dir(thumbDir))))

	// API
	r.Route("/api/images", func(r chi.Router) {
		r.Post("/", uploadHandler.Upload)
		r.Get("/", feedHandler.Feed)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", imageHandler.Detail)
			r.Put("/caption", imageHandler.UpdateCaption)
			r.Post("/edits", imageHandler.Edit)
			r.Get("/versions", imageHandler.Versions)
			r.Get("/thumbnail", imageHandler.Thumbnail)
		})
	})

	if hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			ws.HandleWebSocket(hub, w, r)
		})
	}

	return r
}
