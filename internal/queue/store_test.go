package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"skiff/internal/queue"
	"skiff/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	original := time.Unix(1650000000, 0).UTC()
	item, err := store.NewPost(ctx, queue.PostInput{
		SourceID: "post-1",
		Caption:  "first",
		Media: []queue.MediaRef{
			{URL: "https://source.example/a.jpg", Kind: "image"},
			{URL: "https://source.example/b.mp4", Kind: "video"},
		},
		OriginalAt: original,
	})
	if err != nil {
		t.Fatalf("NewPost failed: %v", err)
	}
	if item.ID == 0 {
		t.Fatal("expected item ID to be assigned")
	}
	if item.Status != queue.StatusPending {
		t.Fatalf("expected pending status, got %s", item.Status)
	}
	if item.OriginalAt == nil || !item.OriginalAt.Equal(original) {
		t.Fatalf("expected original timestamp preserved, got %v", item.OriginalAt)
	}

	fetched, err := store.GetBySourceID(ctx, "post-1")
	if err != nil {
		t.Fatalf("GetBySourceID failed: %v", err)
	}
	if fetched == nil || fetched.ID != item.ID {
		t.Fatalf("expected to find inserted item, got %#v", fetched)
	}
	media, err := fetched.Media()
	if err != nil {
		t.Fatalf("Media failed: %v", err)
	}
	if len(media) != 2 || media[0].URL != "https://source.example/a.jpg" {
		t.Fatalf("unexpected media list: %#v", media)
	}
}

func TestReopenSkipsAppliedMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.NewPost(ctx, queue.PostInput{SourceID: "post-1"}); err != nil {
		t.Fatalf("NewPost failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// The version ledger prevents re-running DDL, so existing rows survive.
	reopened, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	item, err := reopened.GetBySourceID(ctx, "post-1")
	if err != nil {
		t.Fatalf("GetBySourceID failed: %v", err)
	}
	if item == nil || item.SourceID != "post-1" {
		t.Fatalf("expected item to survive reopen, got %#v", item)
	}
}

func TestNewPostRequiresSourceID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.NewPost(context.Background(), queue.PostInput{Caption: "no id"}); err == nil {
		t.Fatal("expected error when source id missing")
	}
}

func TestNewPostRejectsDuplicateSourceID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.NewPost(ctx, queue.PostInput{SourceID: "dup"}); err != nil {
		t.Fatalf("NewPost failed: %v", err)
	}
	if _, err := store.NewPost(ctx, queue.PostInput{SourceID: "dup"}); err == nil {
		t.Fatal("expected unique constraint error for duplicate source id")
	}
}

func TestNewArticleRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item, err := store.NewArticle(ctx, queue.ArticleInput{
		SourceID:    "article-1",
		Title:       "On Migration",
		Summary:     "moving house",
		Body:        "# body",
		HeaderImage: "https://source.example/header.jpg",
		Topics:      []string{"nostr", "migration"},
		PublishedAt: time.Unix(1600000000, 0),
	})
	if err != nil {
		t.Fatalf("NewArticle failed: %v", err)
	}
	if item.Kind != queue.KindArticle {
		t.Fatalf("expected article kind, got %s", item.Kind)
	}
	topics, err := item.Topics()
	if err != nil {
		t.Fatalf("Topics failed: %v", err)
	}
	if len(topics) != 2 || topics[1] != "migration" {
		t.Fatalf("unexpected topics: %v", topics)
	}
}

func TestSnapshotSkipsPublishedItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	var ids []int64
	for i := 0; i < 5; i++ {
		item, err := store.NewPost(ctx, queue.PostInput{SourceID: fmt.Sprintf("post-%d", i)})
		if err != nil {
			t.Fatalf("NewPost failed: %v", err)
		}
		ids = append(ids, item.ID)
	}
	for _, id := range ids[:2] {
		if err := store.MarkPublished(ctx, id); err != nil {
			t.Fatalf("MarkPublished failed: %v", err)
		}
	}

	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 unpublished items, got %d", len(snapshot))
	}
	for _, item := range snapshot {
		if item.ID == ids[0] || item.ID == ids[1] {
			t.Fatalf("published item %d must not appear in snapshot", item.ID)
		}
	}
}

func TestMarkPublishedIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item, err := store.NewPost(ctx, queue.PostInput{SourceID: "post-idem"})
	if err != nil {
		t.Fatalf("NewPost failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.MarkPublished(ctx, item.ID); err != nil {
			t.Fatalf("MarkPublished call %d failed: %v", i+1, err)
		}
	}
	updated, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !updated.Published {
		t.Fatal("expected item to be published")
	}
}

func TestResetStuckProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	stuck := []queue.Status{
		queue.StatusDownloading,
		queue.StatusSigning,
		queue.StatusUploading,
		queue.StatusPublishing,
	}
	var ids []int64
	for i, status := range stuck {
		item, err := store.NewPost(ctx, queue.PostInput{SourceID: fmt.Sprintf("stuck-%d", i)})
		if err != nil {
			t.Fatalf("NewPost failed: %v", err)
		}
		item.Status = status
		item.ErrorMessage = "interrupted"
		if err := store.Update(ctx, item); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		ids = append(ids, item.ID)
	}
	done, err := store.NewPost(ctx, queue.PostInput{SourceID: "done"})
	if err != nil {
		t.Fatalf("NewPost failed: %v", err)
	}
	done.Status = queue.StatusCompleted
	if err := store.Update(ctx, done); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	count, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckProcessing failed: %v", err)
	}
	if int(count) != len(stuck) {
		t.Fatalf("expected %d items reset, got %d", len(stuck), count)
	}
	for _, id := range ids {
		updated, err := store.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if updated.Status != queue.StatusPending {
			t.Fatalf("expected pending after reset, got %s", updated.Status)
		}
		if updated.ErrorMessage != "" {
			t.Fatalf("expected error message cleared, got %q", updated.ErrorMessage)
		}
	}
	unchanged, err := store.GetByID(ctx, done.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if unchanged.Status != queue.StatusCompleted {
		t.Fatalf("completed item must be untouched, got %s", unchanged.Status)
	}
}

func TestRetryFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	var failed []*queue.Item
	for i := 0; i < 3; i++ {
		item, err := store.NewPost(ctx, queue.PostInput{SourceID: fmt.Sprintf("failed-%d", i)})
		if err != nil {
			t.Fatalf("NewPost failed: %v", err)
		}
		item.SetFailed("publish quorum not met")
		if err := store.Update(ctx, item); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		failed = append(failed, item)
	}

	count, err := store.RetryFailed(ctx, failed[0].ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 item retried, got %d", count)
	}

	count, err = store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed all failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 remaining items retried, got %d", count)
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	statuses := []queue.Status{
		queue.StatusPending,
		queue.StatusSigning,
		queue.StatusCompleted,
		queue.StatusFailed,
	}
	for i, status := range statuses {
		item, err := store.NewPost(ctx, queue.PostInput{SourceID: fmt.Sprintf("stats-%d", i)})
		if err != nil {
			t.Fatalf("NewPost failed: %v", err)
		}
		item.Status = status
		if err := store.Update(ctx, item); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[queue.StatusPending] != 1 || stats[queue.StatusSigning] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 4 || health.Processing != 1 || health.Failed != 1 || health.Completed != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestRunLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	run, err := store.CreateRun(ctx, "run-1", "pubkey-1")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	incomplete, err := store.LatestIncompleteRun(ctx)
	if err != nil {
		t.Fatalf("LatestIncompleteRun failed: %v", err)
	}
	if incomplete == nil || incomplete.ID != run.ID {
		t.Fatalf("expected run-1 to be incomplete, got %#v", incomplete)
	}

	// Finishing twice leaves the same terminal state.
	for i := 0; i < 2; i++ {
		if err := store.FinishRun(ctx, run.ID, 3, 1); err != nil {
			t.Fatalf("FinishRun call %d failed: %v", i+1, err)
		}
	}

	finished, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if finished.Completed != 3 || finished.Errored != 1 || finished.FinishedAt == nil {
		t.Fatalf("unexpected finished run: %#v", finished)
	}

	incomplete, err = store.LatestIncompleteRun(ctx)
	if err != nil {
		t.Fatalf("LatestIncompleteRun failed: %v", err)
	}
	if incomplete != nil {
		t.Fatalf("expected no incomplete runs, got %#v", incomplete)
	}
}

func TestSignerSessionRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if session, err := store.LatestSignerSession(ctx); err != nil || session != nil {
		t.Fatalf("expected no session yet, got %#v (err=%v)", session, err)
	}

	saved, err := store.SaveSignerSession(ctx, queue.SignerSession{
		RemotePubkey: "remote-pub",
		ClientSecret: "client-secret",
		Relay:        "wss://relay.example",
	})
	if err != nil {
		t.Fatalf("SaveSignerSession failed: %v", err)
	}
	if saved.ID == 0 {
		t.Fatal("expected session id assigned")
	}

	latest, err := store.LatestSignerSession(ctx)
	if err != nil {
		t.Fatalf("LatestSignerSession failed: %v", err)
	}
	if latest == nil || latest.RemotePubkey != "remote-pub" || latest.Relay != "wss://relay.example" {
		t.Fatalf("unexpected session: %#v", latest)
	}

	cleared, err := store.ClearSignerSessions(ctx)
	if err != nil {
		t.Fatalf("ClearSignerSessions failed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 session cleared, got %d", cleared)
	}
}
