package services_test

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"sync"
	"testing"

	"imagevault/internal/ws"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 120, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 10, G: 80, B: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

// keywordEmbedder maps text onto fixed axes by keyword.
type keywordEmbedder struct {
	err error
}

var keywordAxes = []string{"sunset", "mountain", "cat"}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float32, len(keywordAxes)+1)
	vec[len(keywordAxes)] = 0.01
	for i, k := range keywordAxes {
		if bytes.Contains([]byte(text), []byte(k)) {
			vec[i] = 1
		}
	}
	return vec, nil
}

type stubEditor struct {
	out []byte
	err error
}

func (e *stubEditor) Edit(ctx context.Context, image []byte, instruction string) ([]byte, error) {
	return e.out, e.err
}

var errProvider = errors.New("edit quota exceeded")

type recorder struct {
	mu   sync.Mutex
	msgs []ws.Message
}

func (r *recorder) Broadcast(msg ws.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}
