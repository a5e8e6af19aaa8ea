package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRun records the start of a migration run.
func (s *Store) CreateRun(ctx context.Context, id, authorPubkey string) (*Run, error) {
	if id == "" {
		return nil, errors.New("run id is required")
	}
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO runs (id, author_pubkey, started_at) VALUES (?, ?, ?)`,
		id,
		authorPubkey,
		now.Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{ID: id, AuthorPubkey: authorPubkey, StartedAt: now}, nil
}

// GetRun fetches a run by identifier.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, author_pubkey, completed, errored, started_at, finished_at FROM runs WHERE id = ?`,
		id,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// LatestIncompleteRun returns the most recent run without a finish timestamp.
func (s *Store) LatestIncompleteRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, author_pubkey, completed, errored, started_at, finished_at
         FROM runs WHERE finished_at IS NULL ORDER BY started_at DESC LIMIT 1`,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest incomplete run: %w", err)
	}
	return run, nil
}

// FinishRun records final counts for a run. Repeated calls overwrite the same
// terminal state, so finishing twice is harmless.
func (s *Store) FinishRun(ctx context.Context, id string, completed, errored int) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE runs SET completed = ?, errored = ?, finished_at = ? WHERE id = ?`,
		completed,
		errored,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id          string
		pubkey      string
		completed   int
		errored     int
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &pubkey, &completed, &errored, &startedRaw, &finishedRaw); err != nil {
		return nil, err
	}
	run := &Run{ID: id, AuthorPubkey: pubkey, Completed: completed, Errored: errored}
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	return run, nil
}

// SaveSignerSession persists a remote-signer binding for later resumption.
func (s *Store) SaveSignerSession(ctx context.Context, session SignerSession) (*SignerSession, error) {
	if session.RemotePubkey == "" || session.ClientSecret == "" {
		return nil, errors.New("remote pubkey and client secret are required")
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO signer_sessions (remote_pubkey, client_secret, relay, created_at) VALUES (?, ?, ?, ?)`,
		session.RemotePubkey,
		session.ClientSecret,
		session.Relay,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert signer session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	session.ID = id
	session.CreatedAt = now
	return &session, nil
}

// LatestSignerSession returns the most recently saved signer session.
func (s *Store) LatestSignerSession(ctx context.Context) (*SignerSession, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, remote_pubkey, client_secret, relay, created_at
         FROM signer_sessions ORDER BY id DESC LIMIT 1`,
	)
	var (
		session    SignerSession
		createdRaw string
	)
	err := row.Scan(&session.ID, &session.RemotePubkey, &session.ClientSecret, &session.Relay, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest signer session: %w", err)
	}
	if created, parseErr := parseTimeString(createdRaw); parseErr == nil {
		session.CreatedAt = created
	}
	return &session, nil
}

// ClearSignerSessions removes all persisted signer sessions.
func (s *Store) ClearSignerSessions(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM signer_sessions`)
	if err != nil {
		return 0, fmt.Errorf("clear signer sessions: %w", err)
	}
	return res.RowsAffected()
}
