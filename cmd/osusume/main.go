// Package main is the Osusume CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/catalog"
	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/internal/provider"
	"github.com/hyperjump/osusume/internal/quality"
	"github.com/hyperjump/osusume/internal/recommend"
	"github.com/hyperjump/osusume/internal/refresh"
	"github.com/hyperjump/osusume/internal/server"
	"github.com/hyperjump/osusume/internal/storage"
	"github.com/hyperjump/osusume/internal/vector"
	"github.com/hyperjump/osusume/internal/watcher"
	"github.com/hyperjump/osusume/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/osusume/config.yaml"
	defaultServerURL  = "http://localhost:8090"
)

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used, so that "osusume server" from the project dir uses the
// project's config (including debug).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "refresh":
		runRefresh()
	case "recommend":
		runRecommend()
	case "alerts":
		runAlerts()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("osusume version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (feed changes, refresh cycles, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	triggerRefresh := func(reason string) {
		go func() {
			if _, err := components.Pipeline.RunCycle(runCtx); err != nil {
				logger.Warn("refresh cycle failed", zap.String("trigger", reason), zap.Error(err))
			}
		}()
	}

	// Without a persisted index the first query would see an empty snapshot,
	// so build one right away.
	if components.Snapshots.Current() == nil {
		logger.Info("no persisted index found, running initial refresh")
		triggerRefresh("startup")
	}

	var watchSvc *watcher.Watcher
	if cfg.Catalog.Watch {
		watchOpts := []watcher.WatcherOption{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.NewWatcher(cfg.Catalog.FeedPaths, func() {
			triggerRefresh("feed change")
		}, watchOpts...)
		if err := watchSvc.Start(runCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
	}

	if cfg.Refresh.Interval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Refresh.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					triggerRefresh("interval")
				}
			}
		}()
	}

	srv := server.NewServer(
		components.Engine,
		components.Pipeline,
		components.Storage,
		components.Snapshots,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	runCancel()
	if snap := components.Snapshots.Current(); snap != nil && cfg.Storage.IndexPath != "" {
		if err := snap.Save(cfg.Storage.IndexPath); err != nil {
			logger.Warn("index save failed", zap.String("path", cfg.Storage.IndexPath), zap.Error(err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runRefresh() {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = run the cycle directly)")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		// Go through the running server so it serves the fresh snapshot.
		var report refresh.CycleReport
		if err := postJSON(*serverURL+"/api/v1/refresh", &report); err != nil {
			fmt.Fprintf(os.Stderr, "Refresh failed: %v\n", err)
			os.Exit(1)
		}
		printCycleReport(&report)
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	report, err := components.Pipeline.RunCycle(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Refresh failed: %v\n", err)
		os.Exit(1)
	}
	printCycleReport(report)
}

func printCycleReport(r *refresh.CycleReport) {
	fmt.Printf("cycle:       %s\n", r.CycleID)
	fmt.Printf("items:       %d\n", r.Items)
	fmt.Printf("embedded:    %d\n", r.Embedded)
	fmt.Printf("up_to_date:  %d\n", r.UpToDate)
	fmt.Printf("failed:      %d\n", len(r.Failed))
	for _, f := range r.Failed {
		fmt.Printf("  - %s/%s: %s\n", f.ItemID, f.Modality, f.Error)
	}
	fmt.Printf("full_build:  %t\n", r.FullBuild)
	if !r.FullBuild {
		fmt.Printf("inserted:    %d\n", r.Inserted)
	}
	fmt.Printf("alerts:      %d\n", r.Alerts)
	if r.SnapshotID != "" {
		fmt.Printf("snapshot:    %s\n", r.SnapshotID)
	}
	fmt.Printf("duration:    %s\n", r.Duration)
}

func runRecommend() {
	fs := flag.NewFlagSet("recommend", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = query directly)")
	k := fs.Int("k", 0, "number of recommendations (0 = server default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: osusume recommend [flags] <item-id>")
		os.Exit(1)
	}
	itemID := fs.Arg(0)

	var resp models.RecommendationResponse
	if *serverURL != "" {
		u := *serverURL + "/api/v1/recommendations/" + url.PathEscape(itemID)
		if *k > 0 {
			u += fmt.Sprintf("?k=%d", *k)
		}
		if err := getJSON(u, &resp); err != nil {
			fmt.Fprintf(os.Stderr, "Recommend failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()
		kk := *k
		if kk <= 0 {
			kk = cfg.Recommend.DefaultK
		}
		res, err := components.Engine.GetRecommendations(context.Background(), itemID, kk)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Recommend failed: %v\n", err)
			os.Exit(1)
		}
		resp = *res
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		if len(resp.Results) == 0 {
			fmt.Printf("No recommendations for %s\n", resp.ItemID)
			return
		}
		fmt.Printf("Recommendations for %s:\n", resp.ItemID)
		for _, r := range resp.Results {
			fmt.Printf("%3d. %-24s distance=%.4f\n", r.Rank, r.ItemID, r.Distance)
			if r.Explanation != "" {
				fmt.Printf("     %s\n", r.Explanation)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runAlerts() {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = query directly)")
	risk := fs.String("risk", "", "filter by risk level (HIGH_RISK, MEDIUM_RISK, MONITOR, OK)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var alerts []*models.QualityAlert
	if *serverURL != "" {
		u := *serverURL + "/api/v1/alerts"
		if *risk != "" {
			u += "?risk=" + url.QueryEscape(*risk)
		}
		var out struct {
			Alerts []*models.QualityAlert `json:"alerts"`
		}
		if err := getJSON(u, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Alerts failed: %v\n", err)
			os.Exit(1)
		}
		alerts = out.Alerts
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()
		var riskLevel models.RiskLevel
		if *risk != "" {
			riskLevel, err = models.ParseRiskLevel(*risk)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}
		}
		alerts, err = components.Storage.ListAlerts(context.Background(), riskLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Alerts failed: %v\n", err)
			os.Exit(1)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(alerts); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		if len(alerts) == 0 {
			fmt.Println("No alerts")
			return
		}
		for _, a := range alerts {
			fmt.Printf("%-12s %-24s neg=%d pos=%d rating=%.1f\n",
				a.RiskLevel, a.ItemID,
				a.Evidence.NegativeReviews, a.Evidence.PositiveReviews, a.Evidence.AvgRating)
			if a.Explanation != "" {
				fmt.Printf("             %s\n", a.Explanation)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	status := map[string]interface{}{}
	if *serverURL != "" {
		if err := getJSON(*serverURL+"/status", &status); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		ctx := context.Background()
		embCount, err := components.Storage.CountCurrentEmbeddings(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count embeddings failed: %v\n", err)
			os.Exit(1)
		}
		alertCount, err := components.Storage.CountAlerts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count alerts failed: %v\n", err)
			os.Exit(1)
		}
		status["embeddings"] = embCount
		status["alerts"] = alertCount
		if snap := components.Snapshots.Current(); snap != nil {
			status["index"] = map[string]interface{}{
				"snapshot_id": snap.ID(),
				"size":        snap.Size(),
			}
		}
		if diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.IndexPath); err == nil {
			status["disk_usage_bytes"] = diskBytes
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		for _, key := range []string{"embeddings", "alerts", "disk_usage_bytes"} {
			if v, ok := status[key]; ok {
				fmt.Printf("%-18s %v\n", key+":", v)
			}
		}
		if idx, ok := status["index"].(map[string]interface{}); ok {
			fmt.Println("# index")
			for k, v := range idx {
				fmt.Printf("%-18s %v\n", k+":", v)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func getJSON(u string, out interface{}) error {
	resp, err := http.Get(u)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func postJSON(u string, out interface{}) error {
	resp, err := http.Post(u, "application/json", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Storage   storage.Storage
	Provider  provider.EmbeddingProvider
	Generator provider.TextGenerator
	Snapshots *vector.Holder
	Engine    *recommend.Engine
	Monitor   *quality.Monitor
	Pipeline  *refresh.Pipeline
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath, &cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var embedder provider.EmbeddingProvider
	var generator provider.TextGenerator
	switch cfg.Embedding.Provider {
	case "http":
		p, err := provider.NewHTTPProvider(&cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
		}
		embedder, generator = p, p
	case "mock", "":
		p := provider.NewMockProvider(&cfg.Embedding)
		embedder, generator = p, p
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	embedder = provider.NewEmbeddingCache(embedder, cfg.Embedding.CacheSize)

	snapshots := &vector.Holder{}
	if cfg.Storage.IndexPath != "" {
		snap, loadErr := vector.Load(cfg.Storage.IndexPath)
		if loadErr != nil {
			logger.Warn("index load skipped (will rebuild)",
				zap.String("path", cfg.Storage.IndexPath), zap.Error(loadErr))
		} else if snap != nil {
			snapshots.Publish(snap)
			logger.Info("index loaded",
				zap.String("snapshot_id", snap.ID()), zap.Int("size", snap.Size()))
		}
	}

	source := catalog.NewFeedSource(cfg.Catalog.FeedPaths, logger)

	monitorOpts := []quality.MonitorOption{}
	engineOpts := []recommend.EngineOption{}
	if cfg.Recommend.ExplainEnabled {
		monitorOpts = append(monitorOpts, quality.WithTextGenerator(generator, cfg.Recommend.ExplainTimeout))
		engineOpts = append(engineOpts, recommend.WithTextGenerator(generator))
	}
	monitor := quality.NewMonitor(cfg.Quality, logger, monitorOpts...)
	engine := recommend.NewEngine(store, snapshots, &cfg.Recommend, logger, engineOpts...)
	pipeline := refresh.NewPipeline(source, store, embedder, snapshots, monitor, cfg, logger)

	return &Components{
		Storage:   store,
		Provider:  embedder,
		Generator: generator,
		Snapshots: snapshots,
		Engine:    engine,
		Monitor:   monitor,
		Pipeline:  pipeline,
	}, nil
}

func printUsage() {
	fmt.Println(`osusume - Product similarity and quality monitoring service

Usage:
  osusume server [flags]              Start the HTTP server
  osusume refresh [flags]             Run one refresh cycle
  osusume recommend [flags] <item>    Get similar items
  osusume alerts [flags]              List quality alerts
  osusume status [flags]              Show storage/index status
  osusume version                     Show version
  osusume help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/osusume/config.yaml)
  --debug            Enable debug logging (feed changes, refresh cycles, etc.)

Refresh Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8090). Use empty (--server "") to run the cycle directly.

Recommend Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8090). Use empty (--server "") to query directly.
  --k int            Number of recommendations (0 = configured default)
  --output string    Output format: text or json (default: text)

Alerts Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8090)
  --risk string      Filter by risk level: HIGH_RISK, MEDIUM_RISK, MONITOR, OK
  --output string    Output format: text or json (default: text)

Status Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8090). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  osusume server
  osusume refresh
  osusume recommend PROD-00042
  osusume recommend --k 5 --output json PROD-00042
  osusume alerts --risk HIGH_RISK
  osusume status --output json`)
}
