package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"imagevault/internal/services"

	"github.com/sirupsen/logrus"
)

const maxUploadSize = 50 * 1024 * 1024 // per request, across all files

type UploadHandler struct {
	library *services.Library
	log     logrus.FieldLogger
}

func NewUploadHandler(library *services.Library, log logrus.FieldLogger) *UploadHandler {
	return &UploadHandler{library: library, log: log}
}

type uploadFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Upload accepts one or more files in the "images" field (or a single "image").
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, h.log, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	files := r.MultipartForm.File["images"]
	files = append(files, r.MultipartForm.File["image"]...)
	if len(files) == 0 {
		writeError(w, h.log, http.StatusBadRequest, "no image files provided")
		return
	}

	created := make([]ImageItem, 0, len(files))
	var failed []uploadFailure
	storageFailed := false

	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			failed = append(failed, uploadFailure{Name: fh.Filename, Error: "failed to read file"})
			continue
		}

		rec, err := h.library.Upload(r.Context(), fh.Filename, data)
		if err != nil {
			if errors.Is(err, services.ErrInvalidInput) {
				failed = append(failed, uploadFailure{Name: fh.Filename, Error: err.Error()})
				continue
			}
			h.log.WithError(err).WithField("name", fh.Filename).Error("upload failed")
			failed = append(failed, uploadFailure{Name: fh.Filename, Error: "could not store image"})
			storageFailed = true
			continue
		}
		created = append(created, toItem(*rec))
	}

	// 201 as long as one file was stored
	status := http.StatusCreated
	switch {
	case len(created) > 0:
	case storageFailed:
		status = http.StatusInternalServerError
	default:
		status = http.StatusBadRequest
	}
	writeJSON(w, h.log, status, map[string]any{
		"images": created,
		"errors": failed,
	})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
