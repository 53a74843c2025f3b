package handlers

import (
	"net/http"
	"strconv"

	"imagevault/internal/services"

	"github.com/sirupsen/logrus"
)

const (
	defaultPerPage = 12
	maxPerPage     = 60
)

type FeedHandler struct {
	library *services.Library
	log     logrus.FieldLogger
}

func NewFeedHandler(library *services.Library, log logrus.FieldLogger) *FeedHandler {
	return &FeedHandler{library: library, log: log}
}

// Feed serves the image grid. With q it returns the semantic top-K; when the
// query can't be embedded it falls back to the normal paginated listing.
func (h *FeedHandler) Feed(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	page := intParam(r, "page", 1, 1, 1<<20)
	perPage := intParam(r, "per_page", defaultPerPage, 1, maxPerPage)

	if query != "" {
		result, err := h.library.Search(r.Context(), query)
		if err != nil {
			writeServiceError(w, h.log, err)
			return
		}
		if result.Ranked {
			items := make([]ImageItem, len(result.Matches))
			for i, m := range result.Matches {
				score := m.Score
				items[i] = toItem(m.Record)
				items[i].Score = &score
			}
			writeJSON(w, h.log, http.StatusOK, map[string]any{
				"items":  items,
				"total":  len(items),
				"query":  query,
				"ranked": true,
			})
			return
		}
	}

	records, total, err := h.library.List(r.Context(), page, perPage)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	items := make([]ImageItem, len(records))
	for i, rec := range records {
		items[i] = toItem(rec)
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{
		"items":    items,
		"total":    total,
		"page":     page,
		"per_page": perPage,
		"query":    query,
		"ranked":   false,
	})
}

func intParam(r *http.Request, key string, def, lo, hi int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return def
	}
	return v
}
