package db

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scribe.town/etc"
)

//go:embed db_init.sql
var sqlFS embed.FS

// Session is one recording run.
type Session struct {
	ID        string
	Source    string
	Model     string
	StartedAt time.Time
	EndedAt   *time.Time
}

// SessionCount pairs a session with its stored transcription count.
type SessionCount struct {
	Session
	Transcriptions int
}

// Transcription is one final transcription result.
type Transcription struct {
	ID        int64
	Session   string
	ChunkID   int64
	Text      string
	CreatedAt time.Time
}

// TranscriptionUpdate is the NOTIFY payload emitted by the insert
// trigger on the transcriptions table.
type TranscriptionUpdate struct {
	ID        int64     `json:"id"`
	Session   string    `json:"session"`
	ChunkID   int64     `json:"chunk_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps the connection pool and the queries the program runs.
type Store struct {
	Pool   *pgxpool.Pool
	logger *log.Logger
}

// Open connects to databaseURL and applies the embedded schema. The
// schema is idempotent, so Open runs it on every start.
func Open(ctx context.Context, databaseURL string, logger *log.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	sqlFile, err := sqlFS.ReadFile("db_init.sql")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to read embedded db_init.sql: %w", err)
	}
	if _, err := pool.Exec(ctx, string(sqlFile)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to execute embedded db_init.sql: %w", err)
	}

	return &Store{Pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// CreateSession inserts a new session row with a fresh id.
func (s *Store) CreateSession(ctx context.Context, source, model string) (Session, error) {
	sess := Session{
		ID:        etc.NewFreshID(),
		Source:    source,
		Model:     model,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO sessions (id, source, model, started_at)
		 VALUES ($1, $2, $3, $4)`,
		sess.ID, sess.Source, sess.Model, sess.StartedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

func (s *Store) EndSession(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE sessions SET ended_at = now() WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.Pool.QueryRow(ctx,
		`SELECT id, source, model, started_at, ended_at
		 FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.Source, &sess.Model, &sess.StartedAt, &sess.EndedAt)
	if err != nil {
		return Session{}, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns all sessions, newest first, with their
// transcription counts.
func (s *Store) ListSessions(ctx context.Context) ([]SessionCount, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT s.id, s.source, s.model, s.started_at, s.ended_at, count(t.id)
		FROM sessions s
		LEFT JOIN transcriptions t ON t.session = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionCount
	for rows.Next() {
		var sc SessionCount
		err := rows.Scan(
			&sc.ID, &sc.Source, &sc.Model,
			&sc.StartedAt, &sc.EndedAt, &sc.Transcriptions,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SaveTranscription stores one final result. Partial results are
// ephemeral and never hit the database.
func (s *Store) SaveTranscription(ctx context.Context, sessionID string, chunkID uint64, text string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO transcriptions (session, chunk_id, text)
		 VALUES ($1, $2, $3)`,
		sessionID, int64(chunkID), text,
	)
	if err != nil {
		return fmt.Errorf("failed to save transcription: %w", err)
	}
	return nil
}

func (s *Store) RecentTranscriptions(ctx context.Context, limit int) ([]Transcription, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, session, chunk_id, text, created_at
		FROM transcriptions
		ORDER BY id DESC
		LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcriptions: %w", err)
	}
	defer rows.Close()
	return scanTranscriptions(rows)
}

func (s *Store) SessionTranscriptions(ctx context.Context, sessionID string) ([]Transcription, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, session, chunk_id, text, created_at
		FROM transcriptions
		WHERE session = $1
		ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query session transcriptions: %w", err)
	}
	defer rows.Close()
	return scanTranscriptions(rows)
}

func scanTranscriptions(rows pgx.Rows) ([]Transcription, error) {
	var out []Transcription
	for rows.Next() {
		var tr Transcription
		err := rows.Scan(&tr.ID, &tr.Session, &tr.ChunkID, &tr.Text, &tr.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcription: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.Pool.QueryRow(ctx,
		`SELECT value FROM config WHERE key = $1`, key,
	).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("config key not found: %s", key)
		}
		return "", fmt.Errorf("failed to get config value: %w", err)
	}
	return value, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set config value: %w", err)
	}
	return nil
}

func (s *Store) AllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// StreamTranscriptions LISTENs on the new_transcription channel and
// delivers each inserted row until ctx is canceled. The returned
// channel is closed when the listener exits.
func (s *Store) StreamTranscriptions(ctx context.Context) (<-chan TranscriptionUpdate, error) {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN new_transcription"); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen for transcriptions: %w", err)
	}

	ch := make(chan TranscriptionUpdate)
	s.logger.Info("Listening for new transcriptions...")

	go func() {
		defer close(ch)
		defer conn.Release()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("Error waiting for notification", "error", err)
				return
			}

			var update TranscriptionUpdate
			if err := json.Unmarshal([]byte(notification.Payload), &update); err != nil {
				s.logger.Error("Error unmarshalling notification payload",
					"error", err,
					"payload", notification.Payload,
				)
				continue
			}

			select {
			case ch <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
