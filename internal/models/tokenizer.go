package models

import (
	"errors"

	"github.com/daulet/tokenizers"
)

// Tokenizer wraps a HuggingFace tokenizer.json for the local embedder.
type Tokenizer struct {
	tk *tokenizers.Tokenizer
}

func NewTokenizer(path string) (*Tokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, err
	}
	return &Tokenizer{tk: tk}, nil
}

// Encode returns input ids and attention mask padded or cut to maxLen.
func (t *Tokenizer) Encode(text string, maxLen int) ([]int64, []int64, error) {
	ids, _ := t.tk.Encode(text, true)
	if len(ids) == 0 {
		return nil, nil, errors.New("text produced no tokens")
	}

	inputIDs := make([]int64, maxLen)
	mask := make([]int64, maxLen)

	for i := 0; i < len(ids) && i < maxLen; i++ {
		inputIDs[i] = int64(ids[i])
		mask[i] = 1
	}

	return inputIDs, mask, nil
}

func (t *Tokenizer) Close() error {
	return t.tk.Close()
}
