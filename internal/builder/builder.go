package builder

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"skiff/internal/nostr"
)

// Media describes one uploaded media object referenced by a post event.
type Media struct {
	URL  string
	Hash string
	Mime string
	Size int64
	// Dim is the "WxH" pixel dimensions when known, empty otherwise.
	Dim string
}

// Article carries the metadata for a long-form article event.
type Article struct {
	Identifier  string
	Title       string
	Summary     string
	Body        string
	HeaderImage string
	Tags        []string
	PublishedAt time.Time
}

// Profile carries the fields of a kind 0 metadata event.
type Profile struct {
	Name    string
	About   string
	Picture string
}

func eventTime(original time.Time) int64 {
	if !original.IsZero() {
		return original.Unix()
	}
	return time.Now().Unix()
}

// BuildPost assembles an unsigned kind 1 text note for a migrated post. Media
// URLs are appended to the caption and described by one imeta tag each, in
// the order given. The original timestamp is preserved when supplied.
func BuildPost(authorPubkey string, media []Media, caption string, original time.Time) *nostr.Event {
	tags := make([]nostr.Tag, 0, len(media))
	var body strings.Builder
	body.WriteString(strings.TrimSpace(caption))
	for _, m := range media {
		if body.Len() > 0 {
			body.WriteString("\n")
		}
		body.WriteString(m.URL)

		imeta := nostr.Tag{"imeta", "url " + m.URL}
		if m.Mime != "" {
			imeta = append(imeta, "m "+m.Mime)
		}
		if m.Hash != "" {
			imeta = append(imeta, "x "+m.Hash)
		}
		if m.Dim != "" {
			imeta = append(imeta, "dim "+m.Dim)
		}
		tags = append(tags, imeta)
	}
	return &nostr.Event{
		PubKey:    authorPubkey,
		CreatedAt: eventTime(original),
		Kind:      nostr.KindTextNote,
		Tags:      tags,
		Content:   body.String(),
	}
}

// BuildArticle assembles an unsigned kind 30023 long-form event. The
// identifier becomes the d tag so republishing the same article replaces the
// earlier version.
func BuildArticle(authorPubkey string, article Article) *nostr.Event {
	createdAt := eventTime(article.PublishedAt)
	tags := []nostr.Tag{
		{"d", article.Identifier},
		{"title", article.Title},
		{"published_at", strconv.FormatInt(createdAt, 10)},
	}
	if article.Summary != "" {
		tags = append(tags, nostr.Tag{"summary", article.Summary})
	}
	if article.HeaderImage != "" {
		tags = append(tags, nostr.Tag{"image", article.HeaderImage})
	}
	for _, t := range article.Tags {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, nostr.Tag{"t", t})
		}
	}
	return &nostr.Event{
		PubKey:    authorPubkey,
		CreatedAt: createdAt,
		Kind:      nostr.KindLongForm,
		Tags:      tags,
		Content:   article.Body,
	}
}

// BuildProfile assembles an unsigned kind 0 metadata event.
func BuildProfile(authorPubkey string, profile Profile) (*nostr.Event, error) {
	content, err := json.Marshal(map[string]string{
		"name":    profile.Name,
		"about":   profile.About,
		"picture": profile.Picture,
	})
	if err != nil {
		return nil, fmt.Errorf("encode profile content: %w", err)
	}
	return &nostr.Event{
		PubKey:    authorPubkey,
		CreatedAt: time.Now().Unix(),
		Kind:      nostr.KindProfile,
		Tags:      []nostr.Tag{},
		Content:   string(content),
	}, nil
}

// BuildUploadAuth assembles an unsigned kind 24242 authorization event
// binding a content hash and byte size to the signer, valid for a short
// window.
func BuildUploadAuth(authorPubkey, contentHash string, size int64) *nostr.Event {
	now := time.Now()
	return &nostr.Event{
		PubKey:    authorPubkey,
		CreatedAt: now.Unix(),
		Kind:      nostr.KindBlossomAuth,
		Tags: []nostr.Tag{
			{"t", "upload"},
			{"x", contentHash},
			{"size", strconv.FormatInt(size, 10)},
			{"expiration", strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10)},
		},
		Content: "upload",
	}
}
