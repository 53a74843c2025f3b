package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"imagevault/internal/models"
	"imagevault/internal/search"
	"imagevault/internal/store"
	"imagevault/internal/ws"

	"github.com/sirupsen/logrus"
)

var ErrInvalidInput = errors.New("invalid input")

// Broadcaster receives library events, usually the websocket hub.
type Broadcaster interface {
	Broadcast(msg ws.Message)
}

// IndexSyncer mirrors records into an external vector index.
type IndexSyncer interface {
	Sync(ctx context.Context, position int, rec models.ImageRecord) error
	Rebuild(ctx context.Context, records []models.ImageRecord) error
}

// ThumbnailQueue accepts thumbnail work.
type ThumbnailQueue interface {
	Queue(job ThumbnailJob)
}

type LibraryOption func(*Library)

func WithIndex(index IndexSyncer) LibraryOption {
	return func(l *Library) { l.index = index }
}

func WithThumbnails(q ThumbnailQueue) LibraryOption {
	return func(l *Library) { l.thumbs = q }
}

func WithEvents(b Broadcaster) LibraryOption {
	return func(l *Library) { l.events = b }
}

// Library runs the upload, caption, search and edit flows on top of the store.
type Library struct {
	store    *store.Store
	files    *store.FileStore
	searcher *search.Searcher
	edits    *EditOrchestrator
	index    IndexSyncer
	thumbs   ThumbnailQueue
	events   Broadcaster
	log      logrus.FieldLogger
}

func NewLibrary(st *store.Store, files *store.FileStore, searcher *search.Searcher, edits *EditOrchestrator, log logrus.FieldLogger, opts ...LibraryOption) *Library {
	l := &Library{
		store:    st,
		files:    files,
		searcher: searcher,
		edits:    edits,
		log:      log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Upload stores the bytes, captions them by size and creates the record.
func (l *Library) Upload(ctx context.Context, origName string, data []byte) (*models.ImageRecord, error) {
	if !isAllowedExtension(origName) {
		return nil, fmt.Errorf("%w: unsupported image type %q", ErrInvalidInput, origName)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file %q", ErrInvalidInput, origName)
	}

	name := store.UploadName(origName)
	caption, err := Caption(name, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a readable image: %v", ErrInvalidInput, origName, err)
	}

	if err := l.files.Save(ctx, name, data); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	rec, err := l.store.CreateRecord(ctx, name, origName, caption)
	if err != nil {
		if rmErr := l.files.Delete(ctx, name); rmErr != nil {
			l.log.WithError(rmErr).WithField("file", name).Warn("cleanup of orphaned upload failed")
		}
		return nil, fmt.Errorf("create record: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"image_id":      rec.ID,
		"orig_name":     origName,
		"has_embedding": rec.Embedding != nil,
	}).Info("image uploaded")

	l.syncIndex(ctx, *rec)
	l.queueThumbnail(rec.ID, rec.Filename)
	l.emit(ws.Message{
		Type:     ws.EventImageUploaded,
		ImageID:  rec.ID,
		Filename: rec.Filename,
		Caption:  rec.Caption,
	})
	return rec, nil
}

func (l *Library) Get(ctx context.Context, id string) (*models.ImageRecord, error) {
	return l.store.Find(ctx, id)
}

// List returns one page of records in upload order plus the total count.
func (l *Library) List(ctx context.Context, page, perPage int) ([]models.ImageRecord, int, error) {
	records, err := l.store.List(ctx)
	if err != nil {
		return nil, 0, err
	}
	return paginate(records, page, perPage), len(records), nil
}

// Search ranks all records against the query text. A stale index gets one
// rebuild attempt first; the search itself never depends on it succeeding.
func (l *Library) Search(ctx context.Context, query string) (search.Result, error) {
	if l.index != nil && l.searcher.IndexStale() {
		if err := l.RebuildIndex(ctx); err != nil {
			l.log.WithError(err).Warn("vector index rebuild failed, index stays bypassed")
		}
	}

	records, err := l.store.List(ctx)
	if err != nil {
		return search.Result{}, err
	}
	return l.searcher.Search(ctx, query, records), nil
}

// RebuildIndex replaces the vector index with the document's records and
// lets the searcher use it again.
func (l *Library) RebuildIndex(ctx context.Context) error {
	if l.index == nil {
		return nil
	}
	records, err := l.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	if err := l.index.Rebuild(ctx, records); err != nil {
		l.searcher.MarkIndexStale()
		return fmt.Errorf("rebuild index: %w", err)
	}
	l.searcher.MarkIndexFresh()
	l.log.WithField("records", len(records)).Info("vector index rebuilt")
	return nil
}

func (l *Library) UpdateCaption(ctx context.Context, id, caption string) (*models.ImageRecord, error) {
	rec, err := l.store.UpdateCaption(ctx, id, caption)
	if err != nil {
		return nil, err
	}

	l.syncIndex(ctx, *rec)
	l.emit(ws.Message{
		Type:    ws.EventCaptionUpdated,
		ImageID: rec.ID,
		Caption: rec.Caption,
	})
	return rec, nil
}

// EditOutcome is what an edit request reports back to the caller.
type EditOutcome struct {
	Version  models.VersionEntry
	Fallback bool
	Warning  string
}

// ApplyEdit edits the record's base image, or the file of baseVersion when
// it is positive, and appends the result to the version ledger.
func (l *Library) ApplyEdit(ctx context.Context, id, prompt string, baseVersion int) (*EditOutcome, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: edit prompt is empty", ErrInvalidInput)
	}

	rec, err := l.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	base := rec.Filename
	if baseVersion > 0 {
		v, ok := rec.Version(baseVersion)
		if !ok {
			return nil, fmt.Errorf("%w: image %s has no version %d", ErrInvalidInput, id, baseVersion)
		}
		base = v.Filename
	}

	result, err := l.edits.ApplyEdit(ctx, base, prompt)
	if err != nil {
		return nil, fmt.Errorf("apply edit: %w", err)
	}

	entry, err := l.store.AppendVersion(ctx, id, result.Filename, prompt)
	if err != nil {
		return nil, fmt.Errorf("append version: %w", err)
	}

	out := &EditOutcome{Version: *entry, Fallback: result.Fallback}
	if result.Fallback {
		out.Warning = fmt.Sprintf("image edit failed (%v); stored an unchanged copy", result.Cause)
		l.emit(ws.Message{
			Type:      ws.EventEditFallback,
			ImageID:   id,
			Filename:  entry.Filename,
			VersionID: entry.VersionID,
			Fallback:  true,
			Warning:   out.Warning,
		})
	}

	l.queueThumbnail(id, entry.Filename)
	l.emit(ws.Message{
		Type:      ws.EventVersionAdded,
		ImageID:   id,
		Filename:  entry.Filename,
		VersionID: entry.VersionID,
		Fallback:  result.Fallback,
	})
	return out, nil
}

func (l *Library) Versions(ctx context.Context, id string) ([]models.VersionEntry, error) {
	rec, err := l.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Versions, nil
}

func (l *Library) TopK() int { return l.searcher.TopK() }

func (l *Library) syncIndex(ctx context.Context, rec models.ImageRecord) {
	if l.index == nil {
		return
	}
	pos, err := l.store.Position(ctx, rec.ID)
	if err == nil {
		err = l.index.Sync(ctx, pos, rec)
	}
	if err != nil {
		l.log.WithError(err).WithField("image_id", rec.ID).Warn("vector index out of sync")
		l.searcher.MarkIndexStale()
	}
}

func (l *Library) queueThumbnail(id, filename string) {
	if l.thumbs != nil {
		l.thumbs.Queue(ThumbnailJob{ImageID: id, Filename: filename})
	}
}

func (l *Library) emit(msg ws.Message) {
	if l.events != nil {
		l.events.Broadcast(msg)
	}
}

func paginate(records []models.ImageRecord, page, perPage int) []models.ImageRecord {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		return records
	}
	start := (page - 1) * perPage
	if start >= len(records) {
		return []models.ImageRecord{}
	}
	end := start + perPage
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}
