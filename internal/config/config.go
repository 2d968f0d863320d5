package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/renderinc/post-discovery/internal/discovery"
	"github.com/renderinc/post-discovery/internal/trending"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "DISCOVERY_"

// Config holds every runtime setting
type Config struct {
	Server  Server  `yaml:"server" envPrefix:"SERVER_"`
	Store   Store   `yaml:"store" envPrefix:"STORE_"`
	Ranking Ranking `yaml:"ranking" envPrefix:"RANKING_"`
	Search  Search  `yaml:"search" envPrefix:"SEARCH_"`
	Sync    Sync    `yaml:"sync" envPrefix:"SYNC_"`
	Log     Log     `yaml:"log" envPrefix:"LOG_"`
}

type Server struct {
	Host         string        `yaml:"host" env:"HOST" validate:"required"`
	Port         int           `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	QueryTimeout time.Duration `yaml:"queryTimeout" env:"QUERY_TIMEOUT" validate:"gt=0"`
}

// Addr returns host:port
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type Store struct {
	Backend       string `yaml:"backend" env:"BACKEND" validate:"oneof=sqlite bleve mongo memory"`
	DataDir       string `yaml:"dataDir" env:"DATA_DIR" validate:"required"`
	MongoURI      string `yaml:"mongoURI" env:"MONGO_URI" validate:"required_if=Backend mongo"`
	MongoDatabase string `yaml:"mongoDatabase" env:"MONGO_DATABASE" validate:"required_if=Backend mongo"`
	FacetSize     int    `yaml:"facetSize" env:"FACET_SIZE" validate:"gte=0"`
}

// DBPath is the SQLite file inside the data directory
func (s Store) DBPath() string {
	return filepath.Join(s.DataDir, "discovery.db")
}

// IndexPath is the bleve index directory inside the data directory
func (s Store) IndexPath() string {
	return filepath.Join(s.DataDir, "bleve")
}

type Ranking struct {
	ReactionWeight float64 `yaml:"reactionWeight" env:"REACTION_WEIGHT" validate:"gte=0"`
	CommentWeight  float64 `yaml:"commentWeight" env:"COMMENT_WEIGHT" validate:"gte=0"`
	ViewWeight     float64 `yaml:"viewWeight" env:"VIEW_WEIGHT" validate:"gte=0"`
	BookmarkWeight float64 `yaml:"bookmarkWeight" env:"BOOKMARK_WEIGHT" validate:"gte=0"`
	DecayPerDay    float64 `yaml:"decayPerDay" env:"DECAY_PER_DAY" validate:"gt=0,lte=1"`
	DefaultLimit   int     `yaml:"defaultLimit" env:"DEFAULT_LIMIT" validate:"min=1,max=100"`
}

// Weights converts the ranking section to scorer weights
func (r Ranking) Weights() trending.Weights {
	return trending.Weights{
		Reaction:    r.ReactionWeight,
		Comment:     r.CommentWeight,
		View:        r.ViewWeight,
		Bookmark:    r.BookmarkWeight,
		DecayPerDay: r.DecayPerDay,
	}
}

type Search struct {
	DefaultPageSize int `yaml:"defaultPageSize" env:"DEFAULT_PAGE_SIZE" validate:"min=1,ltefield=MaxPageSize"`
	MaxPageSize     int `yaml:"maxPageSize" env:"MAX_PAGE_SIZE" validate:"min=1,max=100"`
}

type Sync struct {
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY" validate:"min=1,max=64"`
	BatchSize   int `yaml:"batchSize" env:"BATCH_SIZE" validate:"min=1"`
}

type Log struct {
	Level  string `yaml:"level" env:"LEVEL" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=text json"`
	File   string `yaml:"file" env:"FILE"`
}

// Default returns the built-in configuration
func Default() *Config {
	w := trending.DefaultWeights()
	return &Config{
		Server: Server{Host: "localhost", Port: 6893, QueryTimeout: 5 * time.Second},
		Store:  Store{Backend: "sqlite", DataDir: "./data", MongoDatabase: "discovery"},
		Ranking: Ranking{
			ReactionWeight: w.Reaction,
			CommentWeight:  w.Comment,
			ViewWeight:     w.View,
			BookmarkWeight: w.Bookmark,
			DecayPerDay:    w.DecayPerDay,
			DefaultLimit:   trending.DefaultLimit,
		},
		Search: Search{DefaultPageSize: discovery.DefaultPageSize, MaxPageSize: discovery.MaxPageSize},
		Sync:   Sync{Concurrency: 5, BatchSize: 200},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (optional),
// then a .env file in the working directory, then the environment
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Existing environment variables win over .env entries
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
