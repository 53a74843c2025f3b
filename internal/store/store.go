package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"imagevault/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrCorruptData        = errors.New("corrupt metadata")
)

// Embedder turns caption text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store keeps every ImageRecord in a single JSON document that is rewritten
// on each mutation. Mutations inside one process are serialized by mu; two
// processes sharing the same file still race and the last writer wins.
type Store struct {
	mu       sync.Mutex
	path     string
	embedder Embedder
	log      logrus.FieldLogger
	now      func() time.Time
}

// New opens the document at path, creating an empty one if it is absent.
func New(path string, embedder Embedder, log logrus.FieldLogger) (*Store, error) {
	s := &Store{
		path:     path,
		embedder: embedder,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", ErrStorageUnavailable, err)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.Save(context.Background(), &models.Document{Images: []models.ImageRecord{}}); err != nil {
			return nil, err
		}
		log.WithField("path", path).Info("created empty metadata document")
	} else if err != nil {
		return nil, fmt.Errorf("%w: stat metadata: %v", ErrStorageUnavailable, err)
	}

	return s, nil
}

// Load reads and parses the full document.
func (s *Store) Load(ctx context.Context) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, s.path, err)
	}

	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrCorruptData, s.path, err)
	}
	if doc.Images == nil {
		doc.Images = []models.ImageRecord{}
	}
	return &doc, nil
}

// Save replaces the document on disk. The bytes go to a .part file first and
// are renamed over the target, so readers never see a half-written file.
func (s *Store) Save(ctx context.Context, doc *models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tmp := s.path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrStorageUnavailable, tmp, err)
	}

	if _, err := f.Write(raw); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write metadata: %v", ErrStorageUnavailable, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: sync metadata: %v", ErrStorageUnavailable, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: close metadata: %v", ErrStorageUnavailable, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: replace metadata: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// CreateRecord embeds the caption, creates the record with version 1 and persists it.
func (s *Store) CreateRecord(ctx context.Context, filename, origName, caption string) (*models.ImageRecord, error) {
	embedding := s.embed(ctx, caption)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := models.ImageRecord{
		ID:         uuid.NewString(),
		Filename:   filename,
		OrigName:   origName,
		UploadedAt: now,
		Caption:    caption,
		Embedding:  embedding,
		Versions: []models.VersionEntry{{
			VersionID: 1,
			Filename:  filename,
			Note:      "original upload",
			CreatedAt: now,
		}},
	}

	doc.Images = append(doc.Images, rec)
	if err := s.Save(ctx, doc); err != nil {
		return nil, err
	}

	out := rec.Clone()
	return &out, nil
}

// Find returns the record with the given id or ErrNotFound.
func (s *Store) Find(ctx context.Context, id string) (*models.ImageRecord, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	i := indexOf(doc, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	rec := doc.Images[i]
	return &rec, nil
}

// Position returns the insertion index of a record.
func (s *Store) Position(ctx context.Context, id string) (int, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	i := indexOf(doc, id)
	if i < 0 {
		return 0, ErrNotFound
	}
	return i, nil
}

// List returns every record in insertion order.
func (s *Store) List(ctx context.Context) ([]models.ImageRecord, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Images, nil
}

// UpdateCaption replaces the caption and regenerates its embedding.
func (s *Store) UpdateCaption(ctx context.Context, id, caption string) (*models.ImageRecord, error) {
	embedding := s.embed(ctx, caption)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	i := indexOf(doc, id)
	if i < 0 {
		return nil, ErrNotFound
	}

	doc.Images[i].Caption = caption
	doc.Images[i].Embedding = embedding
	if err := s.Save(ctx, doc); err != nil {
		return nil, err
	}

	out := doc.Images[i].Clone()
	return &out, nil
}

// AppendVersion adds the next entry to a record's version ledger.
func (s *Store) AppendVersion(ctx context.Context, id, filename, note string) (*models.VersionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	i := indexOf(doc, id)
	if i < 0 {
		return nil, ErrNotFound
	}

	rec := &doc.Images[i]
	entry := models.VersionEntry{
		VersionID: len(rec.Versions) + 1,
		Filename:  filename,
		Note:      note,
		CreatedAt: s.now(),
	}
	rec.Versions = append(rec.Versions, entry)

	if err := s.Save(ctx, doc); err != nil {
		return nil, err
	}
	return &entry, nil
}

// embed never fails: a provider error or blank caption yields a nil embedding.
func (s *Store) embed(ctx context.Context, caption string) []float32 {
	if strings.TrimSpace(caption) == "" || s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, caption)
	if err != nil {
		s.log.WithError(err).Warn("embedding generation failed, storing record without embedding")
		return nil
	}
	if len(vec) == 0 {
		return nil
	}
	return vec
}

func indexOf(doc *models.Document, id string) int {
	for i := range doc.Images {
		if doc.Images[i].ID == id {
			return i
		}
	}
	return -1
}
