package queue

import (
	"database/sql"
	"errors"
	"time"
)

const itemColumns = "id, source_id, kind, title, caption, body, summary, header_image, topics_json, media_json, status, error_message, event_id, uploaded_json, relay_results_json, published, run_id, original_at, created_at, updated_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id            int64
		sourceID      string
		kindStr       string
		title         sql.NullString
		caption       sql.NullString
		body          sql.NullString
		summary       sql.NullString
		headerImage   sql.NullString
		topicsJSON    sql.NullString
		mediaJSON     sql.NullString
		statusStr     string
		errorMessage  sql.NullString
		eventID       sql.NullString
		uploadedJSON  sql.NullString
		relayJSON     sql.NullString
		published     sql.NullInt64
		runID         sql.NullString
		originalRaw   sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourceID,
		&kindStr,
		&title,
		&caption,
		&body,
		&summary,
		&headerImage,
		&topicsJSON,
		&mediaJSON,
		&statusStr,
		&errorMessage,
		&eventID,
		&uploadedJSON,
		&relayJSON,
		&published,
		&runID,
		&originalRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:               id,
		SourceID:         sourceID,
		Kind:             Kind(kindStr),
		Title:            title.String,
		Caption:          caption.String,
		Body:             body.String,
		Summary:          summary.String,
		HeaderImage:      headerImage.String,
		TopicsJSON:       topicsJSON.String,
		MediaJSON:        mediaJSON.String,
		Status:           Status(statusStr),
		ErrorMessage:     errorMessage.String,
		EventID:          eventID.String,
		UploadedJSON:     uploadedJSON.String,
		RelayResultsJSON: relayJSON.String,
		RunID:            runID.String,
	}
	if published.Valid {
		item.Published = published.Int64 != 0
	}
	if originalRaw.Valid {
		if original, err := parseTimeString(originalRaw.String); err == nil {
			item.OriginalAt = &original
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
