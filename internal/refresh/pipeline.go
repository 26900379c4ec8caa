// Package refresh runs the batch cycle that keeps embeddings, the vector
// index, and quality alerts consistent with the catalog.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/catalog"
	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/models"
	"github.com/hyperjump/osusume/internal/provider"
	"github.com/hyperjump/osusume/internal/quality"
	"github.com/hyperjump/osusume/internal/storage"
	"github.com/hyperjump/osusume/internal/vector"
)

// Pipeline orchestrates refresh cycles. Cycles are serialized: a second
// RunCycle call blocks until the first finishes. Queries keep running
// against the previously published snapshot for the whole cycle; the new
// snapshot is published atomically at the end, and a cancelled cycle
// publishes nothing.
type Pipeline struct {
	catalog   catalog.Source
	storage   storage.Storage
	embedder  provider.EmbeddingProvider
	snapshots *vector.Holder
	monitor   *quality.Monitor
	cfg       *config.Config
	logger    *zap.Logger
	mu        sync.Mutex
}

// NewPipeline creates a refresh pipeline with the given dependencies.
func NewPipeline(
	src catalog.Source,
	store storage.Storage,
	embedder provider.EmbeddingProvider,
	snapshots *vector.Holder,
	monitor *quality.Monitor,
	cfg *config.Config,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		catalog:   src,
		storage:   store,
		embedder:  embedder,
		snapshots: snapshots,
		monitor:   monitor,
		cfg:       cfg,
		logger:    logger,
	}
}

// CycleReport summarizes one refresh cycle.
type CycleReport struct {
	CycleID    string        `json:"cycle_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Items      int           `json:"items"`
	Embedded   int           `json:"embedded"`
	UpToDate   int           `json:"up_to_date"`
	Failed     []ItemFailure `json:"failed,omitempty"`
	FullBuild  bool          `json:"full_build"`
	Inserted   int           `json:"inserted"`
	SnapshotID string        `json:"snapshot_id,omitempty"`
	Alerts     int           `json:"alerts"`
}

// ItemFailure records one (item, modality) that could not be embedded this
// cycle. Failed items stay stale and are picked up again next cycle.
type ItemFailure struct {
	ItemID   string          `json:"item_id"`
	Modality models.Modality `json:"modality"`
	Error    string          `json:"error"`
}

type embedJob struct {
	item     *models.Item
	modality models.Modality
	content  string
}

// RunCycle runs one full refresh cycle: find missing/stale embeddings,
// recompute them on a bounded worker pool, maintain the index (incremental
// inserts or a full rebuild depending on drift), regenerate all quality
// alerts, and publish the new snapshot last. Per-item failures are recorded
// in the report and never abort the batch; only catalog or storage errors
// and cancellation do.
func (p *Pipeline) RunCycle(ctx context.Context) (*CycleReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	report := &CycleReport{
		CycleID:   uuid.New().String(),
		StartedAt: time.Now(),
	}
	log := p.logger.With(zap.String("cycle_id", report.CycleID))
	log.Info("refresh cycle starting")

	items, err := p.catalog.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	report.Items = len(items)

	jobs, upToDate := p.collectWork(ctx, items)
	report.UpToDate = upToDate

	embedded, failures := p.runWorkers(ctx, jobs)
	report.Embedded = len(embedded)
	report.Failed = failures
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("cycle cancelled: %w", err)
	}

	snap, fullBuild, err := p.maintainIndex(ctx, embedded)
	if err != nil {
		return report, err
	}
	report.FullBuild = fullBuild
	if !fullBuild {
		report.Inserted = len(embedded)
	}

	alerts := p.monitor.GenerateAlerts(ctx, items)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("cycle cancelled: %w", err)
	}
	if err := p.storage.ReplaceAlerts(ctx, alerts); err != nil {
		return report, fmt.Errorf("replace alerts: %w", err)
	}
	report.Alerts = len(alerts)

	if _, err := p.storage.PruneEmbeddingVersions(ctx, p.cfg.Storage.KeepVersions); err != nil {
		log.Warn("pruning embedding versions failed", zap.Error(err))
	}

	// Publish last: readers switch to the new snapshot only once everything
	// behind it is durable. A cancelled cycle never reaches this point.
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("cycle cancelled: %w", err)
	}
	if snap != nil {
		p.snapshots.Publish(snap)
		report.SnapshotID = snap.ID()
		if err := snap.Save(p.cfg.Storage.IndexPath); err != nil {
			log.Warn("persisting index snapshot failed", zap.Error(err))
		}
	}

	report.Duration = time.Since(report.StartedAt)
	log.Info("refresh cycle finished",
		zap.Int("items", report.Items),
		zap.Int("embedded", report.Embedded),
		zap.Int("up_to_date", report.UpToDate),
		zap.Int("failed", len(report.Failed)),
		zap.Bool("full_build", report.FullBuild),
		zap.String("snapshot_id", report.SnapshotID),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// collectWork returns one job per (item, modality) whose embedding is
// missing or predates the item's last catalog modification.
func (p *Pipeline) collectWork(ctx context.Context, items []*models.Item) (jobs []embedJob, upToDate int) {
	for _, item := range items {
		for _, m := range p.modalitiesFor(item) {
			content := item.Description
			if m == models.ModalityImage {
				content = item.ImageRef
			}
			emb, err := p.storage.GetEmbedding(ctx, item.ItemID, m)
			switch {
			case errors.Is(err, models.ErrNotFound):
				jobs = append(jobs, embedJob{item: item, modality: m, content: content})
			case err != nil:
				p.logger.Warn("reading embedding failed",
					zap.String("item_id", item.ItemID), zap.String("modality", string(m)), zap.Error(err))
			case emb.Stale(item.LastModified):
				jobs = append(jobs, embedJob{item: item, modality: m, content: content})
			default:
				upToDate++
			}
		}
	}
	return jobs, upToDate
}

func (p *Pipeline) modalitiesFor(item *models.Item) []models.Modality {
	mods := []models.Modality{models.ModalityText}
	if item.ImageRef != "" && p.cfg.Embedding.ImageDim > 0 {
		mods = append(mods, models.ModalityImage)
	}
	return mods
}

// runWorkers embeds all jobs on a bounded worker pool. One job is the unit
// of retry and cancellation: a failed job is recorded and skipped, never
// fatal to the batch. Returns the successfully upserted TEXT embeddings
// (the ones the index is built over) and the failures.
func (p *Pipeline) runWorkers(ctx context.Context, jobs []embedJob) ([]*models.Embedding, []ItemFailure) {
	jobCh := make(chan embedJob)
	var (
		mu       sync.Mutex
		embedded []*models.Embedding
		failures []ItemFailure
		wg       sync.WaitGroup
	)

	for w := 0; w < p.cfg.Refresh.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				emb, err := p.embedOne(ctx, job)
				mu.Lock()
				if err != nil {
					failures = append(failures, ItemFailure{
						ItemID:   job.item.ItemID,
						Modality: job.modality,
						Error:    err.Error(),
					})
				} else if emb.Modality == models.ModalityText {
					embedded = append(embedded, emb)
				}
				mu.Unlock()
			}
		}()
	}

	for _, job := range jobs {
		select {
		case jobCh <- job:
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			return embedded, failures
		}
	}
	close(jobCh)
	wg.Wait()
	return embedded, failures
}

// embedOne calls the provider with a per-attempt timeout and bounded
// exponential backoff, then upserts the result. Cancellation stops the
// retry loop immediately.
func (p *Pipeline) embedOne(ctx context.Context, job embedJob) (*models.Embedding, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.Refresh.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.cfg.Refresh.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Refresh.ItemTimeout)
		vec, err := p.embedder.Embed(attemptCtx, job.content, job.modality)
		cancel()
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Debug("embed attempt failed",
				zap.String("item_id", job.item.ItemID),
				zap.String("modality", string(job.modality)),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		emb := &models.Embedding{
			ItemID:        job.item.ItemID,
			Modality:      job.modality,
			Vector:        vec,
			SourceVersion: job.item.LastModified.UTC().Format(time.RFC3339),
		}
		if err := p.storage.UpsertEmbedding(ctx, emb); err != nil {
			// Dimension violations will not heal on retry.
			return nil, err
		}
		return emb, nil
	}
	return nil, fmt.Errorf("all %d attempts failed: %w", p.cfg.Refresh.MaxRetries+1, lastErr)
}

// maintainIndex decides between incremental inserts and a full rebuild.
// Inserts degrade list balance over time, so once the uncompacted share
// exceeds the drift fraction the whole index is rebuilt from a consistent
// store read. The returned snapshot is not yet published.
func (p *Pipeline) maintainIndex(ctx context.Context, embedded []*models.Embedding) (*vector.Snapshot, bool, error) {
	current := p.snapshots.Current()

	// Drift counts pending inserts too, so a cycle that would tip the index
	// over the threshold rebuilds instead of inserting first.
	rebuild := current == nil ||
		current.Dim() != p.cfg.Embedding.TextDim ||
		float64(current.InsertedSinceBuild()+len(embedded)) > p.cfg.Index.DriftFraction*float64(current.Size())

	if rebuild {
		embs, err := p.storage.ListCurrentEmbeddings(ctx, models.ModalityText)
		if err != nil {
			return nil, false, fmt.Errorf("list embeddings for build: %w", err)
		}
		vectors := make([]vector.Vector, len(embs))
		for i, e := range embs {
			vectors[i] = vector.Vector{ID: e.ItemID, Values: e.Vector}
		}
		snap, err := vector.Build(vectors, vector.Options{
			NumLists: p.cfg.Index.NumLists,
			NProbe:   p.cfg.Index.NProbe,
		})
		if err != nil {
			return nil, false, fmt.Errorf("build index: %w", err)
		}
		return snap, true, nil
	}

	if len(embedded) == 0 {
		return nil, false, nil
	}
	snap := current
	for _, e := range embedded {
		next, err := snap.Insert(e.ItemID, e.Vector)
		if err != nil {
			return nil, false, fmt.Errorf("insert %s: %w", e.ItemID, err)
		}
		snap = next
	}
	return snap, false, nil
}
