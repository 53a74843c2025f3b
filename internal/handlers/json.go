package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"imagevault/internal/models"
	"imagevault/internal/services"
	"imagevault/internal/store"

	"github.com/sirupsen/logrus"
)

// ImageItem is the API view of a record. Embeddings stay server side.
type ImageItem struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	OrigName     string    `json:"orig_name"`
	Caption      string    `json:"caption"`
	UploadedAt   time.Time `json:"uploaded_at"`
	ImageURL     string    `json:"image_url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	HasEmbedding bool      `json:"has_embedding"`
	Versions     int       `json:"versions"`
	Score        *float64  `json:"score,omitempty"`
}

type VersionItem struct {
	VersionID int       `json:"version_id"`
	Filename  string    `json:"filename"`
	ImageURL  string    `json:"image_url"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

func toItem(rec models.ImageRecord) ImageItem {
	return ImageItem{
		ID:           rec.ID,
		Filename:     rec.Filename,
		OrigName:     rec.OrigName,
		Caption:      rec.Caption,
		UploadedAt:   rec.UploadedAt,
		ImageURL:     "/uploads/" + rec.Filename,
		ThumbnailURL: "/api/images/" + rec.ID + "/thumbnail",
		HasEmbedding: len(rec.Embedding) > 0,
		Versions:     len(rec.Versions),
	}
}

func toVersionItem(v models.VersionEntry) VersionItem {
	return VersionItem{
		VersionID: v.VersionID,
		Filename:  v.Filename,
		ImageURL:  "/uploads/" + v.Filename,
		Note:      v.Note,
		CreatedAt: v.CreatedAt,
	}
}

func toVersionItems(versions []models.VersionEntry) []VersionItem {
	items := make([]VersionItem, len(versions))
	for i, v := range versions {
		items[i] = toVersionItem(v)
	}
	return items
}

func writeJSON(w http.ResponseWriter, log logrus.FieldLogger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).WithField("status", status).Error("encode response")
	}
}

func writeError(w http.ResponseWriter, log logrus.FieldLogger, status int, message string) {
	writeJSON(w, log, status, map[string]string{"error": message})
}

// writeServiceError maps domain errors to status codes.
func writeServiceError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, log, http.StatusNotFound, "image not found")
	case errors.Is(err, services.ErrInvalidInput):
		writeError(w, log, http.StatusBadRequest, err.Error())
	default:
		log.WithError(err).Error("request failed")
		writeError(w, log, http.StatusInternalServerError, "internal error")
	}
}

func readJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
