// Package config provides configuration loading and structs for the Osusume server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/osusume/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Recommend RecommendConfig `yaml:"recommend"`
	Quality   QualityConfig   `yaml:"quality"`
	Refresh   RefreshConfig   `yaml:"refresh"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and the persisted index.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	IndexPath    string `yaml:"index_path"`
	// KeepVersions is how many superseded embedding versions to retain per
	// (item, modality) for rollback before pruning.
	KeepVersions int `yaml:"keep_versions"`
}

// CatalogConfig holds the read-only catalog feed settings.
type CatalogConfig struct {
	// FeedPaths are catalog feed files (.jsonl or .xlsx). All are merged;
	// later files win on duplicate item IDs.
	FeedPaths []string `yaml:"feed_paths"`
	// Watch re-runs the refresh cycle when a feed file changes.
	Watch bool `yaml:"watch"`
}

// EmbeddingConfig holds the external embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: "http" or "mock".
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	// APIKeyEnv is the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	// TextDim and ImageDim fix the vector dimension per modality for the
	// whole store. ImageDim 0 disables image embeddings.
	TextDim  int `yaml:"text_dim"`
	ImageDim int `yaml:"image_dim"`
	// RequestsPerSecond caps provider calls client-side (0 = unlimited).
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	CacheSize         int     `yaml:"cache_size"`
}

// IndexConfig holds IVF index settings.
type IndexConfig struct {
	NumLists int `yaml:"num_lists"`
	// NProbe is how many coarse lists a query probes. Higher means better
	// recall and more work; NProbe >= NumLists makes search exhaustive.
	NProbe int `yaml:"nprobe"`
	// DriftFraction is the inserted-since-build share of the index size
	// above which the refresh pipeline does a full rebuild instead of
	// incremental inserts.
	DriftFraction float64 `yaml:"drift_fraction"`
	// RecallFloor is the documented minimum overlap with brute-force
	// search on the reference corpus.
	RecallFloor float64 `yaml:"recall_floor"`
}

// RecommendConfig holds recommendation query settings.
type RecommendConfig struct {
	DefaultK int `yaml:"default_k"`
	MaxK     int `yaml:"max_k"`
	// MaxDistance drops candidates with cosine distance above the cutoff
	// (0 = disabled). Short result sets are a valid outcome.
	MaxDistance float64 `yaml:"max_distance"`
	// MaxSnapshotAge triggers a staleness warning on queries against an
	// older snapshot (0 = disabled). Never an error.
	MaxSnapshotAge time.Duration `yaml:"max_snapshot_age"`
	// ExplainEnabled attaches best-effort explanations from the text
	// generation provider.
	ExplainEnabled bool          `yaml:"explain_enabled"`
	ExplainTimeout time.Duration `yaml:"explain_timeout"`
}

// QualityConfig holds risk classification thresholds. Defaults follow the
// original rule ladder; all are tunable per deployment.
type QualityConfig struct {
	HighRiskRating     float64 `yaml:"high_risk_rating"`
	MediumRiskRating   float64 `yaml:"medium_risk_rating"`
	MediumRiskNegative int     `yaml:"medium_risk_negative"`
	MonitorRating      float64 `yaml:"monitor_rating"`
}

// RefreshConfig holds refresh cycle settings.
type RefreshConfig struct {
	// Workers bounds the embedding worker pool.
	Workers int `yaml:"workers"`
	// ItemTimeout bounds one provider call (one attempt for one item).
	ItemTimeout time.Duration `yaml:"item_timeout"`
	// MaxRetries is the number of retries after the first attempt, with
	// exponential backoff between attempts.
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	// Interval runs periodic cycles from the server (0 = only on demand
	// or on catalog feed changes).
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses the config file at path, expands paths, applies
// defaults, and validates. Returns an error if the file cannot be read or
// parsed, or if the resulting configuration is invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	for i := range cfg.Catalog.FeedPaths {
		cfg.Catalog.FeedPaths[i] = expandPath(cfg.Catalog.FeedPaths[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for configuration errors that must be fatal at startup.
func (c *Config) Validate() error {
	if c.Embedding.TextDim <= 0 {
		return fmt.Errorf("%w: embedding.text_dim must be positive", models.ErrInvalidConfig)
	}
	if c.Embedding.ImageDim < 0 {
		return fmt.Errorf("%w: embedding.image_dim must be >= 0", models.ErrInvalidConfig)
	}
	if c.Index.NumLists <= 0 {
		return fmt.Errorf("%w: index.num_lists must be positive", models.ErrInvalidConfig)
	}
	if c.Index.NProbe <= 0 {
		return fmt.Errorf("%w: index.nprobe must be positive", models.ErrInvalidConfig)
	}
	if c.Index.DriftFraction <= 0 || c.Index.DriftFraction > 1 {
		return fmt.Errorf("%w: index.drift_fraction must be in (0, 1]", models.ErrInvalidConfig)
	}
	if c.Recommend.DefaultK <= 0 || c.Recommend.MaxK < c.Recommend.DefaultK {
		return fmt.Errorf("%w: recommend.default_k/max_k out of range", models.ErrInvalidConfig)
	}
	if c.Refresh.Workers <= 0 {
		return fmt.Errorf("%w: refresh.workers must be positive", models.ErrInvalidConfig)
	}
	return nil
}

// Dim returns the configured dimension for a modality, or an error when the
// modality is disabled or unknown.
func (c *EmbeddingConfig) Dim(m models.Modality) (int, error) {
	switch m {
	case models.ModalityText:
		return c.TextDim, nil
	case models.ModalityImage:
		if c.ImageDim == 0 {
			return 0, fmt.Errorf("%w: image embeddings are disabled", models.ErrInvalidConfig)
		}
		return c.ImageDim, nil
	}
	return 0, fmt.Errorf("%w: unknown modality %q", models.ErrInvalidConfig, m)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative
// to configDir; other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
