package services

import (
	"context"
	"errors"
	"fmt"
	"imagevault/internal/models"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	localSeqLen = 128
	localDim    = 384
)

// Embedder is the embedding provider contract.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var ErrEmptyEmbedding = errors.New("provider returned an empty embedding")

// LocalEmbedder runs a sentence-transformer ONNX model in process.
// The session reuses fixed tensors, so calls are serialized.
type LocalEmbedder struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	tokenizer     *models.Tokenizer
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
	once          sync.Once
}

func NewLocalEmbedder(libraryPath, modelPath, tokenizerPath string) (*LocalEmbedder, error) {
	ort.SetSharedLibraryPath(libraryPath)

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx: %w", err)
	}

	inputIDs, err := ort.NewTensor(ort.NewShape(1, localSeqLen), make([]int64, localSeqLen))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	attentionMask, err := ort.NewTensor(ort.NewShape(1, localSeqLen), make([]int64, localSeqLen))
	if err != nil {
		return nil, fmt.Errorf("create attention tensor: %w", err)
	}

	tokenTypeIDs, err := ort.NewTensor(ort.NewShape(1, localSeqLen), make([]int64, localSeqLen))
	if err != nil {
		return nil, fmt.Errorf("create token type tensor: %w", err)
	}

	output, err := ort.NewTensor(ort.NewShape(1, localSeqLen, localDim), make([]float32, localSeqLen*localDim))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		[]ort.ArbitraryTensor{inputIDs, attentionMask, tokenTypeIDs},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	tokenizer, err := models.NewTokenizer(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	return &LocalEmbedder{
		session:       session,
		tokenizer:     tokenizer,
		inputIDs:      inputIDs,
		attentionMask: attentionMask,
		tokenTypeIDs:  tokenTypeIDs,
		output:        output,
	}, nil
}

func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	inputIDs, attentionMask, err := e.tokenizer.Encode(text, localSeqLen)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	copy(e.inputIDs.GetData(), inputIDs)
	copy(e.attentionMask.GetData(), attentionMask)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	embedding := meanPooling(e.output.GetData(), attentionMask, localSeqLen, localDim)
	if !normalize(embedding) {
		return nil, ErrEmptyEmbedding
	}
	return embedding, nil
}

func meanPooling(output []float32, mask []int64, seqLen, dim int) []float32 {
	embedding := make([]float32, dim)
	count := float32(0)

	for i := 0; i < seqLen; i++ {
		if mask[i] == 0 {
			continue
		}
		count++
		for j := 0; j < dim; j++ {
			embedding[j] += output[i*dim+j]
		}
	}

	if count == 0 {
		return embedding
	}
	for j := range embedding {
		embedding[j] /= count
	}
	return embedding
}

// normalize scales v to unit length in place. It reports false for a zero vector.
func normalize(v []float32) bool {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}
	if sum == 0 {
		return false
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return true
}

func (e *LocalEmbedder) Close() {
	e.once.Do(func() {
		e.session.Destroy()
		e.inputIDs.Destroy()
		e.attentionMask.Destroy()
		e.tokenTypeIDs.Destroy()
		e.output.Destroy()
		_ = e.tokenizer.Close()
		ort.DestroyEnvironment()
	})
}
