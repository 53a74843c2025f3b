package config

import (
	"fmt"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is built once in main and handed to every component.
type Config struct {
	// Server
	Addr string `help:"HTTP listen address" env:"ADDR" default:":8080"`

	// Storage
	DataDir string `help:"Directory holding metadata.json and images/" env:"DATA_DIR" default:"./data"`

	// Embeddings
	EmbeddingProvider string `help:"Embedding provider (openai|local)" env:"EMBEDDING_PROVIDER" enum:"openai,local" default:"openai"`
	OpenAIKey         string `help:"API key for OpenAI embeddings and image edits" env:"OPENAI_API_KEY" default:""`
	EmbeddingModel    string `help:"Model identifier for the embedder" env:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	OnnxModel         string `help:"Path to the ONNX sentence model" env:"ONNX_MODEL" default:"./model/model.onnx"`
	OnnxTokenizer     string `help:"Path to tokenizer.json" env:"ONNX_TOKENIZER" default:"./model/tokenizer.json"`
	OnnxLibrary       string `help:"Path to the onnxruntime shared library" env:"ONNX_LIBRARY" default:"./model/libonnxruntime.so"`

	// Edits
	EditModel string `help:"Model identifier for image edits" env:"EDIT_MODEL" default:"gpt-image-1"`
	EditStyle string `help:"Optional default style appended to edit prompts" env:"EDIT_STYLE" default:""`

	// Search
	SearchTopK  int    `help:"Number of results returned by a semantic search" env:"SEARCH_TOP_K" default:"8"`
	DatabaseURL string `help:"Optional Postgres URL for the pgvector mirror" env:"DATABASE_URL" default:""`

	// Workers
	ThumbnailWorkers int `help:"Thumbnail worker count" env:"THUMBNAIL_WORKERS" default:"3"`

	LogLevel string `help:"Log level" env:"LOG_LEVEL" default:"info"`
}

// Load reads .env (if present) and then parses flags and environment.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	parser, err := kong.New(&cfg,
		kong.Name("imagevault"),
		kong.Description("Image library with captions, semantic search and AI edits."),
	)
	if err != nil {
		return nil, fmt.Errorf("build parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.SearchTopK < 1 {
		return nil, fmt.Errorf("search top-k must be positive, got %d", cfg.SearchTopK)
	}
	if cfg.ThumbnailWorkers < 1 {
		cfg.ThumbnailWorkers = 1
	}
	return &cfg, nil
}

func (c *Config) MetadataPath() string { return filepath.Join(c.DataDir, "metadata.json") }

func (c *Config) ImagesDir() string { return filepath.Join(c.DataDir, "images") }

func (c *Config) ThumbnailsDir() string { return filepath.Join(c.ImagesDir(), "thumbnails") }

// NewLogger returns a logrus logger at the configured level.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logger.WithField("level", c.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
