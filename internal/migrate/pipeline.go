package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"skiff/internal/builder"
	"skiff/internal/logging"
	"skiff/internal/media"
	"skiff/internal/nostr"
	"skiff/internal/queue"
	"skiff/internal/services"
)

// processItem drives one item through download, sign, upload, publish, and
// checkpoint. It returns an error only when the failure is run-fatal; other
// failures are recorded on the item and the worker moves on.
func (r *Runner) processItem(ctx context.Context, logger *slog.Logger, item *queue.Item) error {
	itemLogger := logger.With(logging.String(logging.FieldItemID, item.SourceID))

	err := r.runPipeline(ctx, itemLogger, item)
	if err == nil {
		r.completed.Add(1)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		// Interrupted, not failed: the persisted in-flight status is
		// reclaimed by ResetStuckProcessing on the next run.
		itemLogger.Info("item interrupted, resumable on next run")
		return err
	}
	r.failItem(ctx, itemLogger, item, err)
	if services.IsRunFatal(err) {
		return err
	}
	return nil
}

func (r *Runner) runPipeline(ctx context.Context, logger *slog.Logger, item *queue.Item) error {
	if err := r.setStatus(ctx, item, queue.StatusDownloading); err != nil {
		return err
	}
	assets, err := r.prepareMedia(ctx, item)
	if err != nil {
		return err
	}

	// The host is content-addressed, so every canonical URL is already
	// known from the hashes: the event can be signed before any byte is
	// uploaded, and a failed upload later still fails the whole item.
	if err := r.setStatus(ctx, item, queue.StatusSigning); err != nil {
		return err
	}
	unsigned, err := r.buildEvent(item, assets)
	if err != nil {
		return err
	}
	signed, err := r.signer.Sign(ctx, unsigned)
	if err != nil {
		return err
	}
	item.EventID = signed.ID

	if err := r.setStatus(ctx, item, queue.StatusUploading); err != nil {
		return err
	}
	uploaded, err := r.uploadAssets(ctx, assets)
	if err != nil {
		return err
	}
	if len(uploaded) > 0 {
		encoded, err := json.Marshal(uploaded)
		if err != nil {
			return fmt.Errorf("encode uploaded media: %w", err)
		}
		item.UploadedJSON = string(encoded)
	}

	if err := r.setStatus(ctx, item, queue.StatusPublishing); err != nil {
		return err
	}
	result := r.publisher.Publish(ctx, signed)
	if err := item.SetRelayResults(queue.RelayOutcome{
		Accepted: result.Succeeded,
		Rejected: result.Failed,
	}); err != nil {
		logger.Warn("recording relay results failed", logging.Error(err))
	}
	if !result.MeetsQuorum(r.cfg.Workflow.PublishQuorum) {
		return services.Wrap(services.ErrPublish, "migrate", "publish",
			fmt.Sprintf("%d of %d relays accepted, quorum is %d",
				len(result.Succeeded), len(result.Succeeded)+len(result.Failed), r.cfg.Workflow.PublishQuorum), nil)
	}

	// Durable checkpoint before the terminal status: a crash after this
	// point must not republish the item.
	if err := r.store.MarkPublished(ctx, item.ID); err != nil {
		return fmt.Errorf("checkpoint item: %w", err)
	}
	item.Published = true
	r.importCache(ctx, signed)

	if err := r.setStatus(ctx, item, queue.StatusCompleted); err != nil {
		return err
	}
	logger.Info("item published",
		logging.String(logging.FieldEventID, signed.ID),
		logging.Int("relays", len(result.Succeeded)))
	return nil
}

// prepareMedia fetches every media reference for the item in parallel,
// preserving source order. One failed reference fails the whole item: no
// partial post is ever published.
func (r *Runner) prepareMedia(ctx context.Context, item *queue.Item) ([]*media.Asset, error) {
	sources, err := r.mediaSources(item)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, nil
	}

	assets := make([]*media.Asset, len(sources))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, source := range sources {
		group.Go(func() error {
			asset, err := r.uploader.Prepare(groupCtx, source.URL)
			if err != nil {
				return err
			}
			asset.Dim = source.Dim
			assets[i] = asset
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return assets, nil
}

func (r *Runner) mediaSources(item *queue.Item) ([]queue.MediaRef, error) {
	switch item.Kind {
	case queue.KindPost:
		return item.Media()
	case queue.KindArticle:
		if item.HeaderImage == "" {
			return nil, nil
		}
		return []queue.MediaRef{{URL: item.HeaderImage, Kind: "image"}}, nil
	default:
		return nil, services.Wrap(services.ErrValidation, "migrate", "media",
			fmt.Sprintf("unknown item kind %q", item.Kind), nil)
	}
}

// uploadAssets pushes all prepared bytes to the host in parallel.
func (r *Runner) uploadAssets(ctx context.Context, assets []*media.Asset) ([]media.Uploaded, error) {
	if len(assets) == 0 {
		return nil, nil
	}
	uploaded := make([]media.Uploaded, len(assets))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, asset := range assets {
		group.Go(func() error {
			result, err := r.uploader.Upload(groupCtx, asset)
			if err != nil {
				return err
			}
			uploaded[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return uploaded, nil
}

// buildEvent assembles the unsigned event for an item from its prepared
// media.
func (r *Runner) buildEvent(item *queue.Item, assets []*media.Asset) (*nostr.Event, error) {
	author := r.signer.Pubkey()
	var original time.Time
	if item.OriginalAt != nil {
		original = *item.OriginalAt
	}

	switch item.Kind {
	case queue.KindPost:
		mediaList := make([]builder.Media, len(assets))
		for i, asset := range assets {
			mediaList[i] = builder.Media{
				URL:  asset.URL,
				Hash: asset.Hash,
				Mime: asset.Mime,
				Size: asset.Size,
				Dim:  asset.Dim,
			}
		}
		return builder.BuildPost(author, mediaList, item.Caption, original), nil
	case queue.KindArticle:
		topics, err := item.Topics()
		if err != nil {
			return nil, err
		}
		headerURL := ""
		if len(assets) > 0 {
			headerURL = assets[0].URL
		}
		return builder.BuildArticle(author, builder.Article{
			Identifier:  item.SourceID,
			Title:       item.Title,
			Summary:     item.Summary,
			Body:        item.Body,
			HeaderImage: headerURL,
			Tags:        topics,
			PublishedAt: original,
		}), nil
	default:
		return nil, services.Wrap(services.ErrValidation, "migrate", "build",
			fmt.Sprintf("unknown item kind %q", item.Kind), nil)
	}
}
