package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/osusume/data/db/catalog.db"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/osusume/data/indices/products.ivf"
	}
	if cfg.Storage.KeepVersions == 0 {
		cfg.Storage.KeepVersions = 3
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "multimodal-embedding-001"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OSUSUME_EMBED_API_KEY"
	}
	if cfg.Embedding.TextDim == 0 {
		cfg.Embedding.TextDim = 384
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Index.NumLists == 0 {
		cfg.Index.NumLists = 16
	}
	if cfg.Index.NProbe == 0 {
		cfg.Index.NProbe = 8
	}
	if cfg.Index.DriftFraction == 0 {
		cfg.Index.DriftFraction = 0.25
	}
	if cfg.Index.RecallFloor == 0 {
		cfg.Index.RecallFloor = 0.95
	}
	if cfg.Recommend.DefaultK == 0 {
		cfg.Recommend.DefaultK = 10
	}
	if cfg.Recommend.MaxK == 0 {
		cfg.Recommend.MaxK = 100
	}
	if cfg.Recommend.ExplainTimeout == 0 {
		cfg.Recommend.ExplainTimeout = 3 * time.Second
	}
	if cfg.Quality.HighRiskRating == 0 {
		cfg.Quality.HighRiskRating = 3.0
	}
	if cfg.Quality.MediumRiskRating == 0 {
		cfg.Quality.MediumRiskRating = 3.5
	}
	if cfg.Quality.MediumRiskNegative == 0 {
		cfg.Quality.MediumRiskNegative = 5
	}
	if cfg.Quality.MonitorRating == 0 {
		cfg.Quality.MonitorRating = 4.0
	}
	if cfg.Refresh.Workers == 0 {
		cfg.Refresh.Workers = 4
	}
	if cfg.Refresh.ItemTimeout == 0 {
		cfg.Refresh.ItemTimeout = 30 * time.Second
	}
	if cfg.Refresh.MaxRetries == 0 {
		cfg.Refresh.MaxRetries = 3
	}
	if cfg.Refresh.RetryBaseDelay == 0 {
		cfg.Refresh.RetryBaseDelay = 200 * time.Millisecond
	}
}
