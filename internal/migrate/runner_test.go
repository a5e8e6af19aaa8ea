package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"skiff/internal/builder"
	"skiff/internal/config"
	"skiff/internal/identity"
	"skiff/internal/media"
	"skiff/internal/nostr"
	"skiff/internal/queue"
	"skiff/internal/relay"
	"skiff/internal/services"
	"skiff/internal/signer"
	"skiff/internal/testsupport"
)

type fakeUploader struct {
	mu               sync.Mutex
	prepared         []string
	uploadedURLs     []string
	failPrepare      map[string]bool
	failUpload       map[string]bool
	blockUntilCancel bool
}

func (f *fakeUploader) Prepare(ctx context.Context, sourceURL string) (*media.Asset, error) {
	if f.blockUntilCancel {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPrepare[sourceURL] {
		return nil, services.Wrap(services.ErrUpload, "media", "fetch", sourceURL, errors.New("fetch failed"))
	}
	f.prepared = append(f.prepared, sourceURL)
	sum := sha256.Sum256([]byte(sourceURL))
	hash := hex.EncodeToString(sum[:])
	return &media.Asset{
		Data: []byte(sourceURL),
		Uploaded: media.Uploaded{
			URL:  "https://host.example/" + hash + ".jpg",
			Hash: hash,
			Mime: "image/jpeg",
			Size: int64(len(sourceURL)),
		},
	}, nil
}

func (f *fakeUploader) Upload(_ context.Context, asset *media.Asset) (media.Uploaded, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpload[string(asset.Data)] {
		return media.Uploaded{}, services.Wrap(services.ErrUpload, "media", "upload", "host returned 403", nil)
	}
	f.uploadedURLs = append(f.uploadedURLs, asset.URL)
	return asset.Uploaded, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []*nostr.Event
	succeed   []string
	fail      []string
}

func (f *fakePublisher) Publish(_ context.Context, event *nostr.Event) relay.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
	return relay.Result{
		Succeeded: append([]string(nil), f.succeed...),
		Failed:    append([]string(nil), f.fail...),
	}
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// failingSigner fails requests whose content contains a marker, letting
// tests fail one item while siblings proceed.
type failingSigner struct {
	local  signer.Signer
	marker string
	err    error
}

func (f *failingSigner) Pubkey() string {
	return f.local.Pubkey()
}

func (f *failingSigner) Sign(ctx context.Context, event *nostr.Event) (*nostr.Event, error) {
	if f.marker != "" && strings.Contains(event.Content, f.marker) {
		return nil, f.err
	}
	return f.local.Sign(ctx, event)
}

type harness struct {
	cfg       *config.Config
	store     *queue.Store
	uploader  *fakeUploader
	publisher *fakePublisher
	runner    *Runner
}

func newHarness(t *testing.T, sign signer.Signer) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.Workers = 3
	cfg.Workflow.PublishQuorum = 1
	store := testsupport.MustOpenStore(t, cfg)

	if sign == nil {
		key, err := identity.Generate()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		sign = signer.NewLocal(key)
	}
	uploader := &fakeUploader{failPrepare: map[string]bool{}, failUpload: map[string]bool{}}
	publisher := &fakePublisher{succeed: []string{"wss://one.example"}}
	runner := newRunner(cfg, store, sign, uploader, publisher, nil, nil)
	return &harness{cfg: cfg, store: store, uploader: uploader, publisher: publisher, runner: runner}
}

func (h *harness) addPost(t *testing.T, sourceID string, mediaCount int) *queue.Item {
	t.Helper()
	refs := make([]queue.MediaRef, 0, mediaCount)
	for i := 0; i < mediaCount; i++ {
		refs = append(refs, queue.MediaRef{
			URL:  fmt.Sprintf("https://source.example/%s/%d.jpg", sourceID, i),
			Kind: "image",
		})
	}
	item, err := h.store.NewPost(context.Background(), queue.PostInput{
		SourceID:   sourceID,
		Caption:    "caption for " + sourceID,
		Media:      refs,
		OriginalAt: time.Unix(1650000000, 0),
	})
	if err != nil {
		t.Fatalf("NewPost failed: %v", err)
	}
	return item
}

func TestRunPublishesAllItems(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 3; i++ {
		h.addPost(t, fmt.Sprintf("post-%d", i), 2)
	}

	var (
		mu          sync.Mutex
		transitions = map[string][]queue.Status{}
	)
	h.runner.AddObserver(func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		transitions[tr.SourceID] = append(transitions[tr.SourceID], tr.To)
	})

	report, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Completed != 3 || report.Errored != 0 {
		t.Fatalf("unexpected report: %#v", report)
	}

	items, err := h.store.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, item := range items {
		if item.Status != queue.StatusCompleted || !item.Published {
			t.Fatalf("item %s not completed+published: %#v", item.SourceID, item)
		}
		if item.EventID == "" {
			t.Fatalf("item %s missing event id", item.SourceID)
		}
		outcome, err := item.RelayResults()
		if err != nil || outcome == nil || len(outcome.Accepted) != 1 {
			t.Fatalf("item %s missing relay results: %#v (err=%v)", item.SourceID, outcome, err)
		}
	}

	want := []queue.Status{
		queue.StatusDownloading,
		queue.StatusSigning,
		queue.StatusUploading,
		queue.StatusPublishing,
		queue.StatusCompleted,
	}
	mu.Lock()
	defer mu.Unlock()
	for sourceID, seen := range transitions {
		if len(seen) != len(want) {
			t.Fatalf("%s: unexpected transition count: %v", sourceID, seen)
		}
		for i := range want {
			if seen[i] != want[i] {
				t.Fatalf("%s: transition %d is %s, want %s", sourceID, i, seen[i], want[i])
			}
		}
	}

	if h.publisher.count() != 3 {
		t.Fatalf("expected 3 publishes, got %d", h.publisher.count())
	}
}

func TestRunSucceedsWithPartialRelayFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.publisher.succeed = []string{"wss://one.example", "wss://two.example"}
	h.publisher.fail = []string{"wss://three.example"}
	h.addPost(t, "post-1", 1)

	report, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Completed != 1 || report.Errored != 0 {
		t.Fatalf("unexpected report: %#v", report)
	}
}

func TestRunFailsItemOnPublishQuorum(t *testing.T) {
	h := newHarness(t, nil)
	h.publisher.succeed = nil
	h.publisher.fail = []string{"wss://one.example", "wss://two.example"}
	h.addPost(t, "post-1", 1)

	report, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Completed != 0 || report.Errored != 1 {
		t.Fatalf("unexpected report: %#v", report)
	}

	item, err := h.store.GetBySourceID(context.Background(), "post-1")
	if err != nil {
		t.Fatalf("GetBySourceID failed: %v", err)
	}
	if item.Status != queue.StatusFailed || item.Published {
		t.Fatalf("expected failed unpublished item, got %#v", item)
	}
	if !strings.Contains(item.ErrorMessage, "quorum") {
		t.Fatalf("expected quorum failure message, got %q", item.ErrorMessage)
	}
}

func TestRunIsolatesSigningFailure(t *testing.T) {
	key, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sign := &failingSigner{
		local:  signer.NewLocal(key),
		marker: "post-bad",
		err:    services.Wrap(services.ErrSigning, "signer", "sign", "remote signing exhausted retries", nil),
	}
	h := newHarness(t, sign)
	h.addPost(t, "post-good-1", 1)
	h.addPost(t, "post-bad", 1)
	h.addPost(t, "post-good-2", 1)

	report, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Completed != 2 || report.Errored != 1 {
		t.Fatalf("unexpected report: %#v", report)
	}

	bad, err := h.store.GetBySourceID(context.Background(), "post-bad")
	if err != nil {
		t.Fatalf("GetBySourceID failed: %v", err)
	}
	if bad.Status != queue.StatusFailed {
		t.Fatalf("expected failed status, got %s", bad.Status)
	}
	if !strings.Contains(bad.ErrorMessage, "signing") {
		t.Fatalf("expected signing failure message, got %q", bad.ErrorMessage)
	}
}

func TestRunFailsWholeCarouselOnOneMediaFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.addPost(t, "carousel", 3)
	h.addPost(t, "other", 1)
	h.uploader.failPrepare["https://source.example/carousel/1.jpg"] = true

	report, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Completed != 1 || report.Errored != 1 {
		t.Fatalf("unexpected report: %#v", report)
	}

	carousel, err := h.store.GetBySourceID(context.Background(), "carousel")
	if err != nil {
		t.Fatalf("GetBySourceID failed: %v", err)
	}
	if carousel.Status != queue.StatusFailed || carousel.Published {
		t.Fatalf("expected failed unpublished carousel, got %#v", carousel)
	}

	// The broken carousel must never reach a relay.
	for _, event := range h.publisher.published {
		if strings.Contains(event.Content, "carousel") {
			t.Fatal("carousel event must not be published")
		}
	}
}

func TestRunSkipsCheckpointedItems(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	var items []*queue.Item
	for i := 0; i < 5; i++ {
		items = append(items, h.addPost(t, fmt.Sprintf("post-%d", i), 1))
	}
	for _, item := range items[:2] {
		item.Status = queue.StatusCompleted
		if err := h.store.Update(ctx, item); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if err := h.store.MarkPublished(ctx, item.ID); err != nil {
			t.Fatalf("MarkPublished failed: %v", err)
		}
	}

	report, err := h.runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Completed != 3 || report.Errored != 0 {
		t.Fatalf("unexpected report: %#v", report)
	}
	if h.publisher.count() != 3 {
		t.Fatalf("checkpointed items must not be republished, got %d publishes", h.publisher.count())
	}
}

func TestRunAbortsOnBrokenSigningIdentity(t *testing.T) {
	key, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sign := &failingSigner{
		local:  signer.NewLocal(key),
		marker: "caption",
		err:    services.Wrap(services.ErrChannelClosed, "nip46", "sign_event", "session closed mid-flight", nil),
	}
	h := newHarness(t, sign)
	h.addPost(t, "post-1", 1)
	h.addPost(t, "post-2", 1)

	_, err = h.runner.Run(context.Background())
	if err == nil {
		t.Fatal("expected run-level failure for a dead signing session")
	}
	if !errors.Is(err, services.ErrChannelClosed) {
		t.Fatalf("expected channel-closed marker, got %v", err)
	}
}

func TestRunPublishesProfileBestEffort(t *testing.T) {
	h := newHarness(t, nil)
	h.addPost(t, "post-1", 1)
	h.runner.SetProfile(builder.Profile{Name: "mika", About: "migrated"})

	report, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Completed != 1 {
		t.Fatalf("unexpected report: %#v", report)
	}
	// Profile event plus the item event.
	if h.publisher.count() != 2 {
		t.Fatalf("expected profile + item publishes, got %d", h.publisher.count())
	}
	first := h.publisher.published[0]
	if first.Kind != nostr.KindProfile {
		t.Fatalf("profile must publish before items, got kind %d first", first.Kind)
	}
}

func TestRunContinuesWhenProfilePublishFails(t *testing.T) {
	key, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sign := &failingSigner{
		local:  signer.NewLocal(key),
		marker: `"name"`,
		err:    services.Wrap(services.ErrSigning, "signer", "sign", "remote signing exhausted retries", nil),
	}
	h := newHarness(t, sign)
	h.addPost(t, "post-1", 1)
	h.runner.SetProfile(builder.Profile{Name: "mika"})

	report, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("profile failure must not abort the run: %v", err)
	}
	if report.Completed != 1 || report.Errored != 0 {
		t.Fatalf("unexpected report: %#v", report)
	}
}

func TestRunInterruptionLeavesItemsResumable(t *testing.T) {
	h := newHarness(t, nil)
	h.uploader.blockUntilCancel = true
	h.addPost(t, "post-1", 1)

	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	report, err := h.runner.Run(runCtx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if report.Completed != 0 || report.Errored != 0 {
		t.Fatalf("interruption must not count as failure: %#v", report)
	}

	ctx := context.Background()
	item, err := h.store.GetBySourceID(ctx, "post-1")
	if err != nil {
		t.Fatalf("GetBySourceID failed: %v", err)
	}
	if item.Status != queue.StatusDownloading || item.Published {
		t.Fatalf("expected interrupted item left in-flight, got %#v", item)
	}

	reset, err := h.store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckProcessing failed: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reclaimed item, got %d", reset)
	}
	item, err = h.store.GetBySourceID(ctx, "post-1")
	if err != nil {
		t.Fatalf("GetBySourceID failed: %v", err)
	}
	if item.Status != queue.StatusPending {
		t.Fatalf("expected pending after reclaim, got %s", item.Status)
	}
}

func TestRunResumesInterruptedRun(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.store.CreateRun(ctx, "stale-run", "author"); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	h.addPost(t, "post-1", 1)

	report, err := h.runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.RunID != "stale-run" {
		t.Fatalf("expected resumed run id, got %s", report.RunID)
	}
}

func TestRunForceNewRunAbandonsInterruptedRun(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.store.CreateRun(ctx, "stale-run", "author"); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	h.addPost(t, "post-1", 1)
	h.runner.ForceNewRun()

	report, err := h.runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.RunID == "stale-run" {
		t.Fatal("expected a fresh run id")
	}
	stale, err := h.store.GetRun(ctx, "stale-run")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if stale == nil || stale.FinishedAt == nil {
		t.Fatalf("stale run must be closed out: %#v", stale)
	}
}

func TestRunRecordsRunOutcome(t *testing.T) {
	h := newHarness(t, nil)
	h.addPost(t, "post-1", 1)

	report, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	run, err := h.store.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run == nil || run.FinishedAt == nil || run.Completed != 1 {
		t.Fatalf("unexpected run record: %#v", run)
	}
}

func TestRunPublishesArticleWithHeaderImage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.store.NewArticle(ctx, queue.ArticleInput{
		SourceID:    "article-1",
		Title:       "On Migration",
		Body:        "# body",
		HeaderImage: "https://source.example/header.jpg",
		Topics:      []string{"nostr"},
		PublishedAt: time.Unix(1600000000, 0),
	}); err != nil {
		t.Fatalf("NewArticle failed: %v", err)
	}

	report, err := h.runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Completed != 1 {
		t.Fatalf("unexpected report: %#v", report)
	}
	event := h.publisher.published[0]
	if event.Kind != nostr.KindLongForm {
		t.Fatalf("expected long-form event, got kind %d", event.Kind)
	}
	if got := event.TagValue("image"); !strings.HasPrefix(got, "https://host.example/") {
		t.Fatalf("expected uploaded header image url, got %q", got)
	}
	if got := event.TagValue("published_at"); got != "1600000000" {
		t.Fatalf("expected original publish timestamp, got %q", got)
	}
}
