package models

import "time"

// ImageRecord is one uploaded image with its caption embedding and edit history.
type ImageRecord struct {
	ID         string         `json:"id"`
	Filename   string         `json:"filename"`
	OrigName   string         `json:"orig_name"`
	UploadedAt time.Time      `json:"uploaded_at"`
	Caption    string         `json:"caption"`
	Embedding  []float32      `json:"embedding"`
	Versions   []VersionEntry `json:"versions"`
}

// VersionEntry is immutable once appended.
type VersionEntry struct {
	VersionID int       `json:"version_id"`
	Filename  string    `json:"filename"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is the whole metadata file.
type Document struct {
	Images []ImageRecord `json:"images"`
}

// Version returns the entry with the given id, if any.
func (r *ImageRecord) Version(id int) (VersionEntry, bool) {
	if id < 1 || id > len(r.Versions) {
		return VersionEntry{}, false
	}
	return r.Versions[id-1], true
}

// Clone deep-copies the record so callers can't mutate store state.
func (r ImageRecord) Clone() ImageRecord {
	if r.Embedding != nil {
		r.Embedding = append([]float32(nil), r.Embedding...)
	}
	r.Versions = append([]VersionEntry(nil), r.Versions...)
	return r
}
