package search_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"imagevault/internal/models"
	"imagevault/internal/search"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	v, ok := e.vectors[text]
	if !ok {
		return nil, errors.New("unknown text")
	}
	return v, nil
}

type fakeIndex struct {
	hits  []search.Hit
	err   error
	calls int
}

func (i *fakeIndex) Search(ctx context.Context, query []float32, k int) ([]search.Hit, error) {
	i.calls++
	return i.hits, i.err
}

func rec(id string, emb []float32) models.ImageRecord {
	return models.ImageRecord{ID: id, Embedding: emb}
}

func ids(matches []search.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Record.ID
	}
	return out
}

func TestCosineSimilarity(t *testing.T) {
	s, err := search.CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-9)

	s, err = search.CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, s, 1e-9)

	s, err = search.CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, s, 1e-9)

	s, err = search.CosineSimilarity([]float32{3, 4}, []float32{6, 8})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-9)
}

func TestCosineSimilarity_Degenerate(t *testing.T) {
	s, err := search.CosineSimilarity([]float32{0, 0}, []float32{1, 0})
	assert.ErrorIs(t, err, search.ErrZeroNorm)
	assert.Zero(t, s)
	assert.False(t, math.IsNaN(s))

	s, err = search.CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0})
	assert.ErrorIs(t, err, search.ErrDimensionMismatch)
	assert.Zero(t, s)
}

func TestRank_OrdersByScore(t *testing.T) {
	logger, _ := test.NewNullLogger()
	records := []models.ImageRecord{
		rec("b", []float32{0, 1}),
		rec("a", []float32{1, 0}),
	}

	matches := search.Rank([]float32{1, 0}, records, 8, logger)
	require.Len(t, matches, 2)
	assert.Equal(t, []string{"a", "b"}, ids(matches))
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.InDelta(t, 0.0, matches[1].Score, 1e-9)
}

func TestRank_SkipsNullEmbeddings(t *testing.T) {
	logger, _ := test.NewNullLogger()
	records := []models.ImageRecord{
		rec("none", nil),
		rec("a", []float32{1, 0}),
	}

	matches := search.Rank([]float32{1, 0}, records, 8, logger)
	assert.Equal(t, []string{"a"}, ids(matches))
}

func TestRank_SkipsEmptyEmbeddings(t *testing.T) {
	logger, hook := test.NewNullLogger()
	records := []models.ImageRecord{
		rec("empty", []float32{}),
		rec("a", []float32{1, 0}),
	}

	matches := search.Rank([]float32{1, 0}, records, 8, logger)
	assert.Equal(t, []string{"a"}, ids(matches))
	assert.Empty(t, hook.Entries)
}

func TestRank_NoEmbeddingsIsEmpty(t *testing.T) {
	logger, _ := test.NewNullLogger()
	records := []models.ImageRecord{rec("x", nil), rec("y", nil)}

	assert.Empty(t, search.Rank([]float32{1, 0}, records, 8, logger))
}

func TestRank_TopK(t *testing.T) {
	logger, _ := test.NewNullLogger()
	var records []models.ImageRecord
	for i := 0; i < 20; i++ {
		records = append(records, rec(string(rune('a'+i)), []float32{float32(i + 1), 1}))
	}

	matches := search.Rank([]float32{1, 0}, records, 8, logger)
	assert.Len(t, matches, 8)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}

	assert.Empty(t, search.Rank([]float32{1, 0}, records, 0, logger))
}

func TestRank_TiesKeepInsertionOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	records := []models.ImageRecord{
		rec("first", []float32{1, 1}),
		rec("low", []float32{0, 1}),
		rec("second", []float32{1, 1}),
		rec("third", []float32{1, 1}),
	}

	matches := search.Rank([]float32{1, 1}, records, 8, logger)
	assert.Equal(t, []string{"first", "second", "third", "low"}, ids(matches))
}

func TestRank_ZeroNormScoresZeroAndWarns(t *testing.T) {
	logger, hook := test.NewNullLogger()
	records := []models.ImageRecord{
		rec("zero", []float32{0, 0}),
		rec("neg", []float32{-1, 0}),
		rec("pos", []float32{1, 0}),
	}

	matches := search.Rank([]float32{1, 0}, records, 8, logger)
	assert.Equal(t, []string{"pos", "zero", "neg"}, ids(matches))
	assert.Zero(t, matches[1].Score)

	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestSearcher_RanksQuery(t *testing.T) {
	logger, _ := test.NewNullLogger()
	emb := &fakeEmbedder{vectors: map[string][]float32{"sunset": {1, 0}}}
	s := search.NewSearcher(emb, nil, 8, logger)

	records := []models.ImageRecord{
		rec("mountain", []float32{0, 1}),
		rec("beach", []float32{1, 0}),
		rec("blank", nil),
	}

	res := s.Search(context.Background(), "sunset", records)
	assert.True(t, res.Ranked)
	assert.Equal(t, []string{"beach", "mountain"}, ids(res.Matches))
	assert.Len(t, res.Records(), 2)
}

func TestSearcher_BlankQueryShowsEverything(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := search.NewSearcher(&fakeEmbedder{}, nil, 8, logger)

	records := []models.ImageRecord{rec("a", nil), rec("b", []float32{1, 0})}
	for _, q := range []string{"", "   ", "\t\n"} {
		res := s.Search(context.Background(), q, records)
		assert.False(t, res.Ranked)
		assert.Equal(t, []string{"a", "b"}, ids(res.Matches))
	}
}

func TestSearcher_EmbeddingFailureShowsEverything(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := search.NewSearcher(&fakeEmbedder{err: errors.New("network down")}, nil, 8, logger)

	records := make([]models.ImageRecord, 12)
	for i := range records {
		records[i] = rec(string(rune('a'+i)), []float32{1, 0})
	}

	res := s.Search(context.Background(), "sunset", records)
	assert.False(t, res.Ranked)
	assert.Len(t, res.Matches, 12, "fallback is not truncated to top-k")
}

func TestSearcher_DefaultTopK(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := search.NewSearcher(&fakeEmbedder{}, nil, 0, logger)
	assert.Equal(t, search.DefaultTopK, s.TopK())
}

func TestSearcher_UsesIndex(t *testing.T) {
	logger, _ := test.NewNullLogger()
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	idx := &fakeIndex{hits: []search.Hit{
		{ID: "b", Score: 0.9},
		{ID: "stale", Score: 0.8},
		{ID: "a", Score: 0.1},
	}}
	s := search.NewSearcher(emb, idx, 8, logger)

	records := []models.ImageRecord{rec("a", []float32{0, 1}), rec("b", []float32{1, 0})}
	res := s.Search(context.Background(), "q", records)
	assert.Equal(t, 1, idx.calls)
	assert.True(t, res.Ranked)
	assert.Equal(t, []string{"b", "a"}, ids(res.Matches))
	assert.InDelta(t, 1.0, res.Matches[0].Score, 1e-9, "scores come from the document")
	assert.InDelta(t, 0.0, res.Matches[1].Score, 1e-9)
}

func TestSearcher_IndexScoresAreRecomputed(t *testing.T) {
	logger, _ := test.NewNullLogger()
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	idx := &fakeIndex{hits: []search.Hit{
		{ID: "b", Score: 1.0},
		{ID: "a", Score: 0.9},
		{ID: "c", Score: 0.0},
	}}
	s := search.NewSearcher(emb, idx, 8, logger)

	records := []models.ImageRecord{
		rec("a", []float32{0, 1}),
		rec("b", []float32{0, 1}),
		rec("c", []float32{1, 0}),
	}
	res := s.Search(context.Background(), "q", records)
	assert.Equal(t, []string{"c", "a", "b"}, ids(res.Matches))
	assert.InDelta(t, 1.0, res.Matches[0].Score, 1e-9)
}

func TestSearcher_IndexMissingRecordsFallsBackToScan(t *testing.T) {
	logger, _ := test.NewNullLogger()
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	// the index never saw "c"
	idx := &fakeIndex{hits: []search.Hit{
		{ID: "b", Score: 1.0},
		{ID: "a", Score: 0.0},
	}}
	s := search.NewSearcher(emb, idx, 8, logger)

	records := []models.ImageRecord{
		rec("a", []float32{0, 1}),
		rec("b", []float32{0, 1}),
		rec("c", []float32{1, 0}),
	}
	res := s.Search(context.Background(), "q", records)
	assert.True(t, res.Ranked)
	assert.Equal(t, []string{"c", "a", "b"}, ids(res.Matches))
	assert.InDelta(t, 1.0, res.Matches[0].Score, 1e-9)
	assert.InDelta(t, 0.0, res.Matches[2].Score, 1e-9)
}

func TestSearcher_StaleIndexIsBypassed(t *testing.T) {
	logger, _ := test.NewNullLogger()
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	idx := &fakeIndex{hits: []search.Hit{{ID: "a", Score: 1.0}}}
	s := search.NewSearcher(emb, idx, 8, logger)

	records := []models.ImageRecord{rec("a", []float32{0, 1}), rec("b", []float32{1, 0})}

	s.MarkIndexStale()
	assert.True(t, s.IndexStale())
	res := s.Search(context.Background(), "q", records)
	assert.Zero(t, idx.calls)
	assert.Equal(t, []string{"b", "a"}, ids(res.Matches))

	s.MarkIndexFresh()
	assert.False(t, s.IndexStale())
	s.Search(context.Background(), "q", records)
	assert.Equal(t, 1, idx.calls)
}

func TestSearcher_StaleWithoutIndex(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := search.NewSearcher(&fakeEmbedder{}, nil, 8, logger)

	s.MarkIndexStale()
	assert.False(t, s.IndexStale())
}

func TestSearcher_ZeroNormQuerySkipsIndex(t *testing.T) {
	logger, _ := test.NewNullLogger()
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {0, 0}}}
	idx := &fakeIndex{hits: []search.Hit{{ID: "a", Score: math.NaN()}}}
	s := search.NewSearcher(emb, idx, 8, logger)

	records := []models.ImageRecord{rec("a", []float32{0, 1}), rec("b", []float32{1, 0})}
	res := s.Search(context.Background(), "q", records)
	assert.Zero(t, idx.calls)
	assert.True(t, res.Ranked)
	assert.Equal(t, []string{"a", "b"}, ids(res.Matches))
	for _, m := range res.Matches {
		assert.Zero(t, m.Score)
		assert.False(t, math.IsNaN(m.Score))
	}
}

func TestSearcher_IndexFailureFallsBackToScan(t *testing.T) {
	logger, hook := test.NewNullLogger()
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	s := search.NewSearcher(emb, &fakeIndex{err: errors.New("db down")}, 8, logger)

	records := []models.ImageRecord{rec("a", []float32{0, 1}), rec("b", []float32{1, 0})}
	res := s.Search(context.Background(), "q", records)
	assert.True(t, res.Ranked)
	assert.Equal(t, []string{"b", "a"}, ids(res.Matches))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
