package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostInput describes a post to enqueue.
type PostInput struct {
	SourceID   string
	Caption    string
	Media      []MediaRef
	OriginalAt time.Time
}

// ArticleInput describes an article to enqueue.
type ArticleInput struct {
	SourceID    string
	Title       string
	Summary     string
	Body        string
	HeaderImage string
	Topics      []string
	PublishedAt time.Time
}

// NewPost inserts a pending post item.
func (s *Store) NewPost(ctx context.Context, input PostInput) (*Item, error) {
	if input.SourceID == "" {
		return nil, errors.New("source id is required")
	}
	mediaJSON, err := json.Marshal(input.Media)
	if err != nil {
		return nil, fmt.Errorf("encode media list: %w", err)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	var originalAt any
	if !input.OriginalAt.IsZero() {
		original := input.OriginalAt
		originalAt = nullableTime(&original)
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO queue_items (
            source_id, kind, caption, media_json, status, original_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		input.SourceID,
		KindPost,
		nullableString(input.Caption),
		string(mediaJSON),
		StatusPending,
		originalAt,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// NewArticle inserts a pending article item.
func (s *Store) NewArticle(ctx context.Context, input ArticleInput) (*Item, error) {
	if input.SourceID == "" {
		return nil, errors.New("source id is required")
	}
	if input.Title == "" {
		return nil, errors.New("title is required")
	}
	topicsJSON, err := json.Marshal(input.Topics)
	if err != nil {
		return nil, fmt.Errorf("encode topics: %w", err)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	var originalAt any
	if !input.PublishedAt.IsZero() {
		published := input.PublishedAt
		originalAt = nullableTime(&published)
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO queue_items (
            source_id, kind, title, summary, body, header_image, topics_json,
            status, original_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		input.SourceID,
		KindArticle,
		input.Title,
		nullableString(input.Summary),
		nullableString(input.Body),
		nullableString(input.HeaderImage),
		string(topicsJSON),
		StatusPending,
		originalAt,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert article: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a queue item by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// GetBySourceID fetches a queue item by its stable source identifier.
func (s *Store) GetBySourceID(ctx context.Context, sourceID string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE source_id = ?`, sourceID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item by source id: %w", err)
	}
	return item, nil
}

// Update persists changes to an existing queue item.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_items
         SET source_id = ?, kind = ?, title = ?, caption = ?, body = ?, summary = ?,
             header_image = ?, topics_json = ?, media_json = ?, status = ?,
             error_message = ?, event_id = ?, uploaded_json = ?, relay_results_json = ?,
             published = ?, run_id = ?, original_at = ?, updated_at = ?
         WHERE id = ?`,
		item.SourceID,
		item.Kind,
		nullableString(item.Title),
		nullableString(item.Caption),
		nullableString(item.Body),
		nullableString(item.Summary),
		nullableString(item.HeaderImage),
		nullableString(item.TopicsJSON),
		nullableString(item.MediaJSON),
		item.Status,
		nullableString(item.ErrorMessage),
		nullableString(item.EventID),
		nullableString(item.UploadedJSON),
		nullableString(item.RelayResultsJSON),
		boolToInt(item.Published),
		nullableString(item.RunID),
		nullableTime(item.OriginalAt),
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.ID,
	); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// List returns queue items filtered by status set (or all items when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM queue_items`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Snapshot returns all items not yet checkpointed as published, oldest first.
// A run initializes its task queue from this and skips everything else.
func (s *Store) Snapshot(ctx context.Context) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE published = 0 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot queue: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkPublished records the durable checkpoint for an item. Calling it again
// for the same id is harmless.
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_items SET published = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// ResetStuckProcessing returns items interrupted mid-stage to pending so a
// later run picks them up from the start of their pipeline.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, error_message = NULL, updated_at = ?
         WHERE status IN (?, ?, ?, ?) AND published = 0`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusDownloading,
		StatusSigning,
		StatusUploading,
		StatusPublishing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck items: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed items back to pending for reprocessing.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE queue_items
            SET status = ?, error_message = NULL, updated_at = ?
            WHERE status = ?`,
			StatusPending,
			time.Now().UTC().Format(time.RFC3339Nano),
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed items: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusPending, time.Now().UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE queue_items
        SET status = ?, error_message = NULL, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected items: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes an item by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed items from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed items from the queue.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all items from the queue.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}
