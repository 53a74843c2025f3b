package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	"github.com/sashabaranov/go-openai"
)

const editCanvas = 1024

// OpenAIEmbedder requests caption and query embeddings from the OpenAI API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedder(client *openai.Client, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	rsp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	if len(rsp.Data) == 0 || len(rsp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return rsp.Data[0].Embedding, nil
}

// ImageEditor is the image edit provider contract.
type ImageEditor interface {
	Edit(ctx context.Context, image []byte, instruction string) ([]byte, error)
}

var ErrEmptyEdit = errors.New("provider returned no image data")

// OpenAIEditor sends edits to an OpenAI image model.
type OpenAIEditor struct {
	client *openai.Client
	model  string
	style  string
}

func NewOpenAIEditor(client *openai.Client, model, style string) *OpenAIEditor {
	return &OpenAIEditor{client: client, model: model, style: style}
}

func (e *OpenAIEditor) Edit(ctx context.Context, image []byte, instruction string) ([]byte, error) {
	prepared, err := prepareForEdit(image)
	if err != nil {
		return nil, err
	}

	// the client uploads from a named file so the multipart part gets a .png name
	f, err := os.CreateTemp("", "edit-*.png")
	if err != nil {
		return nil, fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := f.Write(prepared); err != nil {
		return nil, fmt.Errorf("write temp image: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("rewind temp image: %w", err)
	}

	rsp, err := e.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:  f,
		Prompt: FormatEditPrompt(instruction, e.style),
		Model:  e.model,
		N:      1,
		Size:   openai.CreateImageSize1024x1024,
	})
	if err != nil {
		return nil, fmt.Errorf("create image edit: %w", err)
	}

	if len(rsp.Data) == 0 || rsp.Data[0].B64JSON == "" {
		return nil, ErrEmptyEdit
	}

	out, err := base64.StdEncoding.DecodeString(rsp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode edit payload: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrEmptyEdit
	}
	return out, nil
}

// FormatEditPrompt wraps a user instruction in the house edit template.
func FormatEditPrompt(userPrompt, style string) string {
	p := fmt.Sprintf("Apply the following edit to the image: %s. "+
		"Keep faces natural and avoid adding logos or text. "+
		"Return a natural-looking edit that preserves resolution.", userPrompt)
	if style != "" {
		p += fmt.Sprintf(" Style: %s.", style)
	}
	return p
}

// prepareForEdit shrinks the image to fit the edit canvas and re-encodes it as PNG.
func prepareForEdit(image []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	fitted := imaging.Fit(src, editCanvas, editCanvas, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
