package search

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"imagevault/internal/models"

	"github.com/sirupsen/logrus"
)

const DefaultTopK = 8

var (
	ErrZeroNorm          = errors.New("zero-norm vector")
	ErrDimensionMismatch = errors.New("vector dimensions differ")
	ErrIndexIncomplete   = errors.New("vector index is missing records")
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is an external mirror able to answer top-k queries by id.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
}

type Hit struct {
	ID    string
	Score float64
}

type Match struct {
	Record models.ImageRecord
	Score  float64
}

// Result of a search. Ranked is false when the query could not be embedded
// and the caller should show every record instead.
type Result struct {
	Ranked  bool
	Matches []Match
}

// Records returns the matched records in result order.
func (r Result) Records() []models.ImageRecord {
	out := make([]models.ImageRecord, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Record
	}
	return out
}

// CosineSimilarity returns dot(a,b)/(|a||b|). Zero-norm and mismatched
// inputs score 0 alongside an error describing why.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, ErrZeroNorm
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Rank scores every record that has an embedding and returns the best topK,
// highest first. Equal scores keep insertion order.
func Rank(query []float32, records []models.ImageRecord, topK int, log logrus.FieldLogger) []Match {
	if topK <= 0 {
		return nil
	}

	matches := make([]Match, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) == 0 {
			continue
		}
		score, err := CosineSimilarity(query, rec.Embedding)
		if err != nil {
			log.WithError(err).WithField("image_id", rec.ID).Warn("degenerate embedding scored as 0")
		}
		matches = append(matches, Match{Record: rec, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// Searcher embeds a query and ranks records against it.
type Searcher struct {
	embedder Embedder
	index    VectorIndex
	stale    atomic.Bool
	topK     int
	log      logrus.FieldLogger
}

func NewSearcher(embedder Embedder, index VectorIndex, topK int, log logrus.FieldLogger) *Searcher {
	if topK < 1 {
		topK = DefaultTopK
	}
	return &Searcher{embedder: embedder, index: index, topK: topK, log: log}
}

func (s *Searcher) TopK() int { return s.topK }

// MarkIndexStale stops searches from using the index until MarkIndexFresh.
// Call it when a write to the index fails.
func (s *Searcher) MarkIndexStale() {
	if s.index != nil && !s.stale.Swap(true) {
		s.log.Warn("vector index marked stale, searching the document directly")
	}
}

// MarkIndexFresh re-enables the index after a successful rebuild.
func (s *Searcher) MarkIndexFresh() { s.stale.Store(false) }

// IndexStale reports whether a configured index is currently bypassed.
func (s *Searcher) IndexStale() bool { return s.index != nil && s.stale.Load() }

// Search never fails: a blank query or an embedding failure degrades to the
// unranked record list.
func (s *Searcher) Search(ctx context.Context, query string, records []models.ImageRecord) Result {
	if strings.TrimSpace(query) == "" {
		return unranked(records)
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil || len(vec) == 0 {
		s.log.WithError(err).WithField("query", query).Warn("query embedding failed, showing all images")
		return unranked(records)
	}

	if isZero(vec) {
		s.log.WithField("query", query).Warn("query embedding has zero norm, every record scores 0")
		return Result{Ranked: true, Matches: Rank(vec, records, s.topK, s.log)}
	}

	if s.index != nil && !s.stale.Load() {
		matches, err := s.searchIndex(ctx, vec, records)
		if err == nil {
			return Result{Ranked: true, Matches: matches}
		}
		s.log.WithError(err).Warn("vector index search failed, falling back to in-memory scan")
	}

	return Result{Ranked: true, Matches: Rank(vec, records, s.topK, s.log)}
}

// searchIndex takes candidate ids from the index and scores them against the
// document's embeddings. Ids the document no longer knows are dropped.
func (s *Searcher) searchIndex(ctx context.Context, vec []float32, records []models.ImageRecord) ([]Match, error) {
	hits, err := s.index.Search(ctx, vec, s.topK)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.ImageRecord, len(records))
	order := make(map[string]int, len(records))
	embedded := 0
	for i, rec := range records {
		byID[rec.ID] = rec
		order[rec.ID] = i
		if len(rec.Embedding) > 0 {
			embedded++
		}
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		rec, ok := byID[h.ID]
		if !ok || len(rec.Embedding) == 0 {
			continue
		}
		score, err := CosineSimilarity(vec, rec.Embedding)
		if err != nil {
			s.log.WithError(err).WithField("image_id", rec.ID).Warn("degenerate embedding scored as 0")
		}
		matches = append(matches, Match{Record: rec, Score: score})
	}

	if len(matches) < min(s.topK, embedded) {
		return nil, ErrIndexIncomplete
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return order[matches[i].Record.ID] < order[matches[j].Record.ID]
	})
	return matches, nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func unranked(records []models.ImageRecord) Result {
	matches := make([]Match, len(records))
	for i, rec := range records {
		matches[i] = Match{Record: rec}
	}
	return Result{Ranked: false, Matches: matches}
}
