package builder_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"skiff/internal/builder"
	"skiff/internal/nostr"
)

const authorPubkey = "f7234bd4c1394dda46d09f35bd384dd30cc552ad5541990f98844fb06676e9ca"

func TestBuildPostPreservesOriginalTimestampAndOrder(t *testing.T) {
	original := time.Unix(1650000000, 0)
	media := []builder.Media{
		{URL: "https://host.example/aa.jpg", Hash: "aa", Mime: "image/jpeg", Dim: "1080x1350"},
		{URL: "https://host.example/bb.mp4", Hash: "bb", Mime: "video/mp4"},
	}
	ev := builder.BuildPost(authorPubkey, media, "beach day", original)

	if ev.Kind != nostr.KindTextNote {
		t.Fatalf("expected kind %d, got %d", nostr.KindTextNote, ev.Kind)
	}
	if ev.CreatedAt != original.Unix() {
		t.Fatalf("expected original timestamp %d, got %d", original.Unix(), ev.CreatedAt)
	}
	lines := strings.Split(ev.Content, "\n")
	if len(lines) != 3 || lines[0] != "beach day" || lines[1] != media[0].URL || lines[2] != media[1].URL {
		t.Fatalf("unexpected content: %q", ev.Content)
	}
	if len(ev.Tags) != 2 {
		t.Fatalf("expected 2 imeta tags, got %d", len(ev.Tags))
	}
	first := ev.Tags[0]
	if first[0] != "imeta" || first[1] != "url "+media[0].URL {
		t.Fatalf("unexpected first imeta tag: %v", first)
	}
	if !tagContains(first, "dim 1080x1350") {
		t.Fatalf("expected dim entry in %v", first)
	}
	if tagContains(ev.Tags[1], "dim ") {
		t.Fatalf("unexpected dim entry in %v", ev.Tags[1])
	}
}

func TestBuildPostDefaultsToNow(t *testing.T) {
	before := time.Now().Unix()
	ev := builder.BuildPost(authorPubkey, nil, "no media", time.Time{})
	after := time.Now().Unix()
	if ev.CreatedAt < before || ev.CreatedAt > after {
		t.Fatalf("expected current timestamp, got %d", ev.CreatedAt)
	}
	if ev.Content != "no media" {
		t.Fatalf("unexpected content: %q", ev.Content)
	}
	if len(ev.Tags) != 0 {
		t.Fatalf("expected no tags, got %v", ev.Tags)
	}
}

func TestBuildArticleTags(t *testing.T) {
	published := time.Unix(1600000000, 0)
	ev := builder.BuildArticle(authorPubkey, builder.Article{
		Identifier:  "post-42",
		Title:       "On Migration",
		Summary:     "moving house",
		Body:        "# On Migration\n\nbody",
		HeaderImage: "https://host.example/header.jpg",
		Tags:        []string{"nostr", " ", "migration"},
		PublishedAt: published,
	})

	if ev.Kind != nostr.KindLongForm {
		t.Fatalf("expected kind %d, got %d", nostr.KindLongForm, ev.Kind)
	}
	if ev.CreatedAt != published.Unix() {
		t.Fatalf("expected published timestamp, got %d", ev.CreatedAt)
	}
	if got := ev.TagValue("d"); got != "post-42" {
		t.Fatalf("unexpected d tag: %q", got)
	}
	if got := ev.TagValue("published_at"); got != "1600000000" {
		t.Fatalf("unexpected published_at tag: %q", got)
	}
	if got := ev.TagValue("image"); got != "https://host.example/header.jpg" {
		t.Fatalf("unexpected image tag: %q", got)
	}
	var topics []string
	for _, tag := range ev.Tags {
		if tag[0] == "t" {
			topics = append(topics, tag[1])
		}
	}
	if len(topics) != 2 || topics[0] != "nostr" || topics[1] != "migration" {
		t.Fatalf("unexpected topic tags: %v", topics)
	}
}

func TestBuildProfileContent(t *testing.T) {
	ev, err := builder.BuildProfile(authorPubkey, builder.Profile{
		Name:    "mika",
		About:   "migrated from the old place",
		Picture: "https://host.example/avatar.jpg",
	})
	if err != nil {
		t.Fatalf("BuildProfile failed: %v", err)
	}
	if ev.Kind != nostr.KindProfile {
		t.Fatalf("expected kind %d, got %d", nostr.KindProfile, ev.Kind)
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(ev.Content), &fields); err != nil {
		t.Fatalf("profile content is not JSON: %v", err)
	}
	if fields["name"] != "mika" || fields["picture"] != "https://host.example/avatar.jpg" {
		t.Fatalf("unexpected profile fields: %v", fields)
	}
}

func TestBuildUploadAuth(t *testing.T) {
	ev := builder.BuildUploadAuth(authorPubkey, "deadbeef", 2048)
	if ev.Kind != nostr.KindBlossomAuth {
		t.Fatalf("expected kind %d, got %d", nostr.KindBlossomAuth, ev.Kind)
	}
	if got := ev.TagValue("t"); got != "upload" {
		t.Fatalf("unexpected t tag: %q", got)
	}
	if got := ev.TagValue("x"); got != "deadbeef" {
		t.Fatalf("unexpected x tag: %q", got)
	}
	if got := ev.TagValue("size"); got != "2048" {
		t.Fatalf("unexpected size tag: %q", got)
	}
	if got := ev.TagValue("expiration"); got == "" {
		t.Fatal("expected expiration tag")
	}
}

func tagContains(tag nostr.Tag, prefix string) bool {
	for _, entry := range tag {
		if strings.HasPrefix(entry, prefix) {
			return true
		}
	}
	return false
}
