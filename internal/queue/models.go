package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusSigning     Status = "signing"
	StatusUploading   Status = "uploading"
	StatusPublishing  Status = "publishing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusDownloading,
	StatusSigning,
	StatusUploading,
	StatusPublishing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusDownloading: {},
	StatusSigning:     {},
	StatusUploading:   {},
	StatusPublishing:  {},
}

// Kind distinguishes the content types the queue carries.
type Kind string

const (
	KindPost    Kind = "post"
	KindArticle Kind = "article"
)

// MediaRef is one media object attached to a post, in display order.
type MediaRef struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
	Dim  string `json:"dim,omitempty"`
}

// RelayOutcome records which relays accepted and rejected an item's event.
type RelayOutcome struct {
	Accepted []string `json:"accepted"`
	Rejected []string `json:"rejected"`
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}

// Item represents a queue item persisted in SQLite.
type Item struct {
	ID               int64
	SourceID         string
	Kind             Kind
	Title            string
	Caption          string
	Body             string
	Summary          string
	HeaderImage      string
	TopicsJSON       string
	MediaJSON        string
	Status           Status
	ErrorMessage     string
	EventID          string
	UploadedJSON     string
	RelayResultsJSON string
	Published        bool
	RunID            string
	OriginalAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight stage.
func (i Item) IsProcessing() bool {
	_, ok := processingStatuses[i.Status]
	return ok
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// Media decodes the item's media list.
func (i *Item) Media() ([]MediaRef, error) {
	if strings.TrimSpace(i.MediaJSON) == "" {
		return nil, nil
	}
	var refs []MediaRef
	if err := json.Unmarshal([]byte(i.MediaJSON), &refs); err != nil {
		return nil, fmt.Errorf("decode media list: %w", err)
	}
	return refs, nil
}

// SetMedia encodes the media list onto the item.
func (i *Item) SetMedia(refs []MediaRef) error {
	data, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("encode media list: %w", err)
	}
	i.MediaJSON = string(data)
	return nil
}

// Topics decodes the article topic list.
func (i *Item) Topics() ([]string, error) {
	if strings.TrimSpace(i.TopicsJSON) == "" {
		return nil, nil
	}
	var topics []string
	if err := json.Unmarshal([]byte(i.TopicsJSON), &topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	return topics, nil
}

// SetTopics encodes the article topic list onto the item.
func (i *Item) SetTopics(topics []string) error {
	data, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	i.TopicsJSON = string(data)
	return nil
}

// RelayResults decodes the persisted relay outcome, if any.
func (i *Item) RelayResults() (*RelayOutcome, error) {
	if strings.TrimSpace(i.RelayResultsJSON) == "" {
		return nil, nil
	}
	var outcome RelayOutcome
	if err := json.Unmarshal([]byte(i.RelayResultsJSON), &outcome); err != nil {
		return nil, fmt.Errorf("decode relay results: %w", err)
	}
	return &outcome, nil
}

// SetRelayResults encodes the relay outcome onto the item.
func (i *Item) SetRelayResults(outcome RelayOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode relay results: %w", err)
	}
	i.RelayResultsJSON = string(data)
	return nil
}

// SetFailed marks the item as failed with the given error message.
func (i *Item) SetFailed(message string) {
	i.Status = StatusFailed
	i.ErrorMessage = message
}

// Run is one migration run over the queue.
type Run struct {
	ID           string
	AuthorPubkey string
	Completed    int
	Errored      int
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// SignerSession is a persisted remote-signer binding, used to resume a run
// without repeating the handshake.
type SignerSession struct {
	ID           int64
	RemotePubkey string
	ClientSecret string
	Relay        string
	CreatedAt    time.Time
}
