package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"imagevault/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type ImageHandler struct {
	library  *services.Library
	thumbDir string
	imageDir string
	log      logrus.FieldLogger
}

func NewImageHandler(library *services.Library, imageDir, thumbDir string, log logrus.FieldLogger) *ImageHandler {
	return &ImageHandler{library: library, imageDir: imageDir, thumbDir: thumbDir, log: log}
}

// Detail returns one record with its version history.
// GET /api/images/{id}
func (h *ImageHandler) Detail(w http.ResponseWriter, r *http.Request) {
	rec, err := h.library.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{
		"image":    toItem(*rec),
		"versions": toVersionItems(rec.Versions),
	})
}

type captionRequest struct {
	Caption *string `json:"caption"`
}

// UpdateCaption replaces the caption and re-embeds it.
// PUT /api/images/{id}/caption
func (h *ImageHandler) UpdateCaption(w http.ResponseWriter, r *http.Request) {
	var req captionRequest
	if err := readJSON(r, &req); err != nil || req.Caption == nil {
		writeError(w, h.log, http.StatusBadRequest, "body must be {\"caption\": \"...\"}")
		return
	}

	rec, err := h.library.UpdateCaption(r.Context(), chi.URLParam(r, "id"), *req.Caption)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, toItem(*rec))
}

type editRequest struct {
	Prompt      string `json:"prompt"`
	BaseVersion int    `json:"base_version"`
}

// Edit applies an AI edit and appends the new version.
// POST /api/images/{id}/edits
func (h *ImageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.log, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := h.library.ApplyEdit(r.Context(), chi.URLParam(r, "id"), req.Prompt, req.BaseVersion)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	resp := map[string]any{
		"version":  toVersionItem(out.Version),
		"fallback": out.Fallback,
	}
	if out.Warning != "" {
		resp["warning"] = out.Warning
	}
	writeJSON(w, h.log, http.StatusCreated, resp)
}

// Versions lists the version ledger.
// GET /api/images/{id}/versions
func (h *ImageHandler) Versions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.library.Versions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"versions": toVersionItems(versions)})
}

// Thumbnail serves the base image's thumbnail, or the full image while the
// thumbnail is still being rendered.
// GET /api/images/{id}/thumbnail
func (h *ImageHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	rec, err := h.library.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	filename := rec.Filename
	thumbPath := filepath.Join(h.thumbDir, services.ThumbnailName(filename))
	if _, err := os.Stat(thumbPath); err == nil {
		http.ServeFile(w, r, thumbPath)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.imageDir, filename))
}
