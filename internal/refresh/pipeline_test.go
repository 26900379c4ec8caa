package refresh

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/internal/provider"
	"github.com/hyperjump/osusume/internal/quality"
	"github.com/hyperjump/osusume/internal/storage"
	"github.com/hyperjump/osusume/internal/vector"
)

type stubSource struct {
	items []*models.Item
}

func (s *stubSource) Items(ctx context.Context) ([]*models.Item, error) {
	return s.items, nil
}

// failingProvider fails every item whose content contains "FAIL" and
// delegates the rest.
type failingProvider struct {
	inner provider.EmbeddingProvider
	mu    sync.Mutex
	calls int
}

func (p *failingProvider) Embed(ctx context.Context, content string, modality models.Modality) ([]float32, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if strings.Contains(content, "FAIL") {
		return nil, fmt.Errorf("%w: simulated backend outage", models.ErrExternalService)
	}
	return p.inner.Embed(ctx, content, modality)
}

func (p *failingProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testPipelineConfig() *config.Config {
	return &config.Config{
		Storage:   config.StorageConfig{KeepVersions: 2},
		Embedding: config.EmbeddingConfig{TextDim: 8},
		Index:     config.IndexConfig{NumLists: 2, NProbe: 2, DriftFraction: 0.25},
		Quality: config.QualityConfig{
			HighRiskRating:     3.0,
			MediumRiskRating:   3.5,
			MediumRiskNegative: 5,
			MonitorRating:      4.0,
		},
		Refresh: config.RefreshConfig{
			Workers:        2,
			ItemTimeout:    time.Second,
			MaxRetries:     1,
			RetryBaseDelay: time.Millisecond,
		},
	}
}

func catalogItems(n int) []*models.Item {
	items := make([]*models.Item, n)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := range items {
		items[i] = &models.Item{
			ItemID:       fmt.Sprintf("PROD-%03d", i),
			Name:         fmt.Sprintf("Product %d", i),
			Description:  fmt.Sprintf("description of product %d", i),
			LastModified: base,
			Reviews:      models.ReviewStats{PositiveReviews: 10, AvgRating: 4.5},
		}
	}
	return items
}

func newTestPipeline(t *testing.T, cfg *config.Config, src *stubSource, embedder provider.EmbeddingProvider) (*Pipeline, storage.Storage, *vector.Holder) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "db.sqlite"), &cfg.Embedding)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	holder := &vector.Holder{}
	monitor := quality.NewMonitor(cfg.Quality, zap.NewNop())
	p := NewPipeline(src, store, embedder, holder, monitor, cfg, zap.NewNop())
	return p, store, holder
}

func TestRunCycleFullBuild(t *testing.T) {
	cfg := testPipelineConfig()
	src := &stubSource{items: catalogItems(6)}
	p, store, holder := newTestPipeline(t, cfg, src, provider.NewMockProvider(&cfg.Embedding))

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Items != 6 || report.Embedded != 6 || len(report.Failed) != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if !report.FullBuild {
		t.Error("first cycle should do a full build")
	}
	if report.Alerts != 6 {
		t.Errorf("expected one alert per item, got %d", report.Alerts)
	}

	snap := holder.Current()
	if snap == nil {
		t.Fatal("cycle should publish a snapshot")
	}
	if snap.ID() != report.SnapshotID {
		t.Error("report should carry the published snapshot ID")
	}
	if snap.Size() != 6 {
		t.Errorf("expected 6 indexed items, got %d", snap.Size())
	}

	emb, err := store.GetEmbedding(context.Background(), "PROD-000", models.ModalityText)
	if err != nil {
		t.Fatal(err)
	}
	if emb.Version != 1 || emb.Dim != 8 {
		t.Errorf("unexpected stored embedding: %+v", emb)
	}
}

func TestRunCycleSkipsUpToDate(t *testing.T) {
	cfg := testPipelineConfig()
	src := &stubSource{items: catalogItems(4)}
	p, _, holder := newTestPipeline(t, cfg, src, provider.NewMockProvider(&cfg.Embedding))

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	firstSnap := holder.Current()

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Embedded != 0 || report.UpToDate != 4 {
		t.Errorf("second cycle should skip everything: %+v", report)
	}
	if holder.Current() != firstSnap {
		t.Error("a cycle with no embedding changes should keep the current snapshot")
	}
}

func TestRunCycleRecomputesStale(t *testing.T) {
	cfg := testPipelineConfig()
	items := catalogItems(3)
	src := &stubSource{items: items}
	p, store, _ := newTestPipeline(t, cfg, src, provider.NewMockProvider(&cfg.Embedding))

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	// One item changes in the catalog after its embedding was written.
	items[1].LastModified = time.Now().Add(time.Hour)
	items[1].Description = "updated description"

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Embedded != 1 || report.UpToDate != 2 {
		t.Errorf("expected exactly the stale item re-embedded: %+v", report)
	}
	emb, err := store.GetEmbedding(context.Background(), items[1].ItemID, models.ModalityText)
	if err != nil {
		t.Fatal(err)
	}
	if emb.Version != 2 {
		t.Errorf("stale item should get a new version, got %d", emb.Version)
	}
}

func TestRunCyclePerItemFailuresAreNonFatal(t *testing.T) {
	cfg := testPipelineConfig()
	items := catalogItems(4)
	items[2].Description = "FAIL this one"
	src := &stubSource{items: items}
	embedder := &failingProvider{inner: provider.NewMockProvider(&cfg.Embedding)}
	p, store, holder := newTestPipeline(t, cfg, src, embedder)

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("per-item failures must not fail the cycle: %v", err)
	}
	if report.Embedded != 3 {
		t.Errorf("expected 3 embedded, got %d", report.Embedded)
	}
	if len(report.Failed) != 1 || report.Failed[0].ItemID != "PROD-002" {
		t.Errorf("expected PROD-002 in failures, got %+v", report.Failed)
	}
	// One initial attempt plus MaxRetries for the failing item.
	wantCalls := 3 + 1 + cfg.Refresh.MaxRetries
	if got := embedder.totalCalls(); got != wantCalls {
		t.Errorf("expected %d provider calls, got %d", wantCalls, got)
	}

	if _, err := store.GetEmbedding(context.Background(), "PROD-002", models.ModalityText); err == nil {
		t.Error("failed item must not be stored")
	}
	if snap := holder.Current(); snap == nil || snap.Size() != 3 {
		t.Error("snapshot should cover the successfully embedded items")
	}
}

func TestRunCycleIncrementalInsert(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Index.DriftFraction = 1.0
	items := catalogItems(8)
	src := &stubSource{items: items}
	p, _, holder := newTestPipeline(t, cfg, src, provider.NewMockProvider(&cfg.Embedding))

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	src.items = append(items, &models.Item{
		ItemID:       "PROD-NEW",
		Description:  "a brand new product",
		LastModified: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.FullBuild {
		t.Error("one insert under the drift fraction should not rebuild")
	}
	if report.Inserted != 1 {
		t.Errorf("expected 1 insert, got %d", report.Inserted)
	}
	snap := holder.Current()
	if !snap.Has("PROD-NEW") {
		t.Error("new item should be queryable in the published snapshot")
	}
	if snap.InsertedSinceBuild() != 1 {
		t.Errorf("insert counter should be 1, got %d", snap.InsertedSinceBuild())
	}
}

func TestRunCycleDriftTriggersRebuild(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Index.DriftFraction = 0.1
	items := catalogItems(5)
	src := &stubSource{items: items}
	p, _, holder := newTestPipeline(t, cfg, src, provider.NewMockProvider(&cfg.Embedding))

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Two new items on a 5-item index exceed the 0.1 drift fraction.
	src.items = append(items, catalogItemsFrom(100, 2)...)
	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.FullBuild {
		t.Error("exceeding the drift fraction should trigger a full rebuild")
	}
	snap := holder.Current()
	if snap.Size() != 7 {
		t.Errorf("rebuilt snapshot should cover all items, got %d", snap.Size())
	}
	if snap.InsertedSinceBuild() != 0 {
		t.Error("a full build resets the insert counter")
	}
}

func TestRunCycleEmbedsImageModality(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Embedding.ImageDim = 4
	items := catalogItems(2)
	items[0].ImageRef = "gs://catalog/images/prod-000.jpg"
	src := &stubSource{items: items}
	p, store, _ := newTestPipeline(t, cfg, src, provider.NewMockProvider(&cfg.Embedding))

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	img, err := store.GetEmbedding(context.Background(), "PROD-000", models.ModalityImage)
	if err != nil {
		t.Fatal(err)
	}
	if img.Dim != 4 {
		t.Errorf("image embedding should use the image dimension, got %d", img.Dim)
	}
	if _, err := store.GetEmbedding(context.Background(), "PROD-001", models.ModalityImage); err == nil {
		t.Error("items without an image ref must not get image embeddings")
	}
}

func TestRunCycleCancelledPublishesNothing(t *testing.T) {
	cfg := testPipelineConfig()
	src := &stubSource{items: catalogItems(5)}
	p, _, holder := newTestPipeline(t, cfg, src, provider.NewMockProvider(&cfg.Embedding))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.RunCycle(ctx); err == nil {
		t.Fatal("cancelled cycle should return an error")
	}
	if holder.Current() != nil {
		t.Error("cancelled cycle must not publish a snapshot")
	}
}

func TestRunCycleWritesAlerts(t *testing.T) {
	cfg := testPipelineConfig()
	items := catalogItems(2)
	items[0].Reviews = models.ReviewStats{PositiveReviews: 1, NegativeReviews: 8, AvgRating: 1.9}
	src := &stubSource{items: items}
	p, store, _ := newTestPipeline(t, cfg, src, provider.NewMockProvider(&cfg.Embedding))

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	alert, err := store.GetAlert(context.Background(), "PROD-000")
	if err != nil {
		t.Fatal(err)
	}
	if alert.RiskLevel != models.RiskHigh {
		t.Errorf("expected HIGH_RISK, got %s", alert.RiskLevel)
	}
	ok, err := store.GetAlert(context.Background(), "PROD-001")
	if err != nil {
		t.Fatal(err)
	}
	if ok.RiskLevel != models.RiskOK {
		t.Errorf("expected OK, got %s", ok.RiskLevel)
	}
}

func catalogItemsFrom(start, n int) []*models.Item {
	items := make([]*models.Item, n)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := range items {
		items[i] = &models.Item{
			ItemID:       fmt.Sprintf("PROD-%03d", start+i),
			Description:  fmt.Sprintf("description of product %d", start+i),
			LastModified: base,
			Reviews:      models.ReviewStats{PositiveReviews: 10, AvgRating: 4.5},
		}
	}
	return items
}
