package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"skiff/internal/builder"
	"skiff/internal/config"
	"skiff/internal/logging"
	"skiff/internal/media"
	"skiff/internal/nostr"
	"skiff/internal/queue"
	"skiff/internal/relay"
	"skiff/internal/signer"
)

// Transition is emitted to observers on every item status change. The
// orchestrator carries no presentation dependency; progress surfaces
// subscribe to these instead.
type Transition struct {
	ItemID   int64
	SourceID string
	From     queue.Status
	To       queue.Status
}

// Observer receives status transitions. Observers must not block.
type Observer func(Transition)

// Report is the final outcome of a run.
type Report struct {
	RunID     string
	Completed int
	Errored   int
}

// Runner drives every non-checkpointed queue item through its publish
// pipeline under a fixed-size worker pool.
type Runner struct {
	cfg       *config.Config
	store     *queue.Store
	signer    signer.Signer
	uploader  uploaderClient
	publisher publisherClient
	importer  *relay.CacheImporter
	logger    *slog.Logger

	profile     *builder.Profile
	forceNewRun bool
	observerMu  sync.RWMutex
	observers   []Observer

	completed atomic.Int32
	errored   atomic.Int32
}

// uploaderClient is the media surface the pipeline needs.
type uploaderClient interface {
	Prepare(ctx context.Context, sourceURL string) (*media.Asset, error)
	Upload(ctx context.Context, asset *media.Asset) (media.Uploaded, error)
}

// publisherClient is the relay fan-out surface the pipeline needs.
type publisherClient interface {
	Publish(ctx context.Context, event *nostr.Event) relay.Result
}

type publisherAdapter struct {
	*relay.Publisher
}

// NewRunner assembles a Runner from its collaborators. importer may be nil.
func NewRunner(cfg *config.Config, store *queue.Store, sign signer.Signer, uploader *media.Uploader, publisher *relay.Publisher, importer *relay.CacheImporter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return newRunner(cfg, store, sign, uploader, publisherAdapter{publisher}, importer, logger)
}

func newRunner(cfg *config.Config, store *queue.Store, sign signer.Signer, uploader uploaderClient, publisher publisherClient, importer *relay.CacheImporter, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		store:     store,
		signer:    sign,
		uploader:  uploader,
		publisher: publisher,
		importer:  importer,
		logger:    logging.NewComponentLogger(logger, "migrate"),
	}
}

// AddObserver registers a transition observer. Register before Run.
func (r *Runner) AddObserver(fn Observer) {
	r.observerMu.Lock()
	defer r.observerMu.Unlock()
	r.observers = append(r.observers, fn)
}

// SetProfile arranges a one-time profile publish ahead of item processing.
// Its failure never aborts the run.
func (r *Runner) SetProfile(profile builder.Profile) {
	r.profile = &profile
}

// Run processes the queue snapshot to completion and reports final counts.
// It returns an error only for run-level failures: the data-dir lock, the
// queue store, or a broken signing identity. Per-item failures are recorded
// on the items and counted in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	lock := flock.New(filepath.Join(r.cfg.Paths.DataDir, "migrate.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another migration run is active")
	}
	defer func() { _ = lock.Unlock() }()

	runID, err := r.resolveRunID(ctx)
	if err != nil {
		return nil, err
	}
	logger := r.logger.With(logging.String(logging.FieldRunID, runID))

	if reset, err := r.store.ResetStuckProcessing(ctx); err != nil {
		return nil, fmt.Errorf("reset interrupted items: %w", err)
	} else if reset > 0 {
		logger.Info("reset interrupted items to pending", logging.Int64("items", reset))
	}

	snapshot, err := r.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot queue: %w", err)
	}
	pending := make([]*queue.Item, 0, len(snapshot))
	for _, item := range snapshot {
		if item.Status == queue.StatusPending {
			item.RunID = runID
			pending = append(pending, item)
		}
	}
	logger.Info("migration run starting",
		logging.Int("items", len(pending)),
		logging.Int("workers", r.cfg.Workflow.Workers))

	r.publishProfile(ctx, logger)

	r.completed.Store(0)
	r.errored.Store(0)

	tasks := make(chan *queue.Item, len(pending))
	for _, item := range pending {
		tasks <- item
	}
	close(tasks)

	workers := r.cfg.Workflow.Workers
	if workers < 1 {
		workers = 1
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return groupCtx.Err()
				case item, ok := <-tasks:
					if !ok {
						return nil
					}
					if err := r.processItem(groupCtx, logger, item); err != nil {
						return err
					}
				}
			}
		})
	}
	runErr := group.Wait()

	report := &Report{
		RunID:     runID,
		Completed: int(r.completed.Load()),
		Errored:   int(r.errored.Load()),
	}
	if err := r.store.FinishRun(ctx, runID, report.Completed, report.Errored); err != nil {
		logger.Warn("recording run outcome failed", logging.Error(err))
	}
	logger.Info("migration run finished",
		logging.Int("completed", report.Completed),
		logging.Int("errored", report.Errored))

	if runErr != nil {
		return report, runErr
	}
	return report, nil
}

// ForceNewRun abandons any interrupted run instead of resuming it.
func (r *Runner) ForceNewRun() {
	r.forceNewRun = true
}

// resolveRunID resumes the latest incomplete run or starts a new one.
func (r *Runner) resolveRunID(ctx context.Context) (string, error) {
	if run, err := r.store.LatestIncompleteRun(ctx); err != nil {
		return "", fmt.Errorf("look up incomplete run: %w", err)
	} else if run != nil {
		if !r.forceNewRun {
			r.logger.Info("resuming interrupted run", logging.String(logging.FieldRunID, run.ID))
			return run.ID, nil
		}
		if err := r.store.FinishRun(ctx, run.ID, 0, 0); err != nil {
			return "", fmt.Errorf("abandon interrupted run: %w", err)
		}
		r.logger.Info("abandoned interrupted run", logging.String(logging.FieldRunID, run.ID))
	}
	runID := uuid.NewString()
	if _, err := r.store.CreateRun(ctx, runID, r.signer.Pubkey()); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return runID, nil
}

// publishProfile runs the one-time profile publish. Best effort: failures
// are logged and swallowed.
func (r *Runner) publishProfile(ctx context.Context, logger *slog.Logger) {
	if r.profile == nil {
		return
	}
	event, err := builder.BuildProfile(r.signer.Pubkey(), *r.profile)
	if err != nil {
		logger.Warn("profile publish skipped", logging.Error(err))
		return
	}
	signed, err := r.signer.Sign(ctx, event)
	if err != nil {
		logger.Warn("profile signing failed, continuing without profile", logging.Error(err))
		return
	}
	result := r.publisher.Publish(ctx, signed)
	if len(result.Succeeded) == 0 {
		logger.Warn("no relay accepted the profile event, continuing")
		return
	}
	r.importCache(ctx, signed)
	logger.Info("profile published", logging.Int("relays", len(result.Succeeded)))
}

func (r *Runner) importCache(ctx context.Context, events ...*nostr.Event) {
	if r.importer == nil {
		return
	}
	r.importer.Import(ctx, events)
}

func (r *Runner) emit(t Transition) {
	r.observerMu.RLock()
	observers := r.observers
	r.observerMu.RUnlock()
	for _, fn := range observers {
		fn(t)
	}
}

// setStatus persists a status transition and notifies observers.
func (r *Runner) setStatus(ctx context.Context, item *queue.Item, to queue.Status) error {
	from := item.Status
	item.Status = to
	if err := r.store.Update(ctx, item); err != nil {
		item.Status = from
		return fmt.Errorf("persist status %s: %w", to, err)
	}
	r.emit(Transition{ItemID: item.ID, SourceID: item.SourceID, From: from, To: to})
	return nil
}

// failItem records a per-item failure and moves on. The run-fatal check is
// done by the caller.
func (r *Runner) failItem(ctx context.Context, logger *slog.Logger, item *queue.Item, err error) {
	from := item.Status
	item.SetFailed(err.Error())
	if updateErr := r.store.Update(ctx, item); updateErr != nil {
		logger.Error("persisting item failure failed", logging.Error(updateErr))
	}
	r.emit(Transition{ItemID: item.ID, SourceID: item.SourceID, From: from, To: queue.StatusFailed})
	r.errored.Add(1)
	logger.Warn("item failed",
		logging.String(logging.FieldItemID, item.SourceID),
		logging.Error(err))
}
