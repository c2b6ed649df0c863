package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"repday/internal/models"
)

var ErrNotFound = errors.New("not found")

// Session is a persisted RepDay token of one Telegram user.
type Session struct {
	TelegramID int64
	Token      string
	User       models.User
	UpdatedAt  time.Time
}

// Store keeps the little state the bot owns: tokens and nudge timestamps.
type Store interface {
	GetSession(ctx context.Context, tgID int64) (*Session, error)
	SaveSession(ctx context.Context, s Session) error
	DeleteSession(ctx context.Context, tgID int64) error

	SaveNudge(ctx context.Context, tgID, challengeID, participantID int64, at time.Time) error
	LoadNudges(ctx context.Context, tgID, challengeID int64) (map[int64]time.Time, error)
	DeleteNudges(ctx context.Context, tgID, challengeID int64) error
}

const schema = `
CREATE TABLE IF NOT EXISTS bot_sessions (
	tg_id      BIGINT PRIMARY KEY,
	token      TEXT NOT NULL,
	user_json  TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS bot_nudges (
	tg_id          BIGINT NOT NULL,
	challenge_id   BIGINT NOT NULL,
	participant_id BIGINT NOT NULL,
	nudged_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tg_id, challenge_id, participant_id)
);`

// Repository is the Postgres Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Open connects to Postgres and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Session methods
func (r *Repository) GetSession(ctx context.Context, tgID int64) (*Session, error) {
	var s Session
	var userJSON string
	err := r.db.QueryRowContext(ctx, `
		SELECT tg_id, token, user_json, updated_at
		FROM bot_sessions WHERE tg_id = $1
	`, tgID).Scan(&s.TelegramID, &s.Token, &userJSON, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(userJSON), &s.User); err != nil {
		return nil, fmt.Errorf("decode stored user: %w", err)
	}
	return &s, nil
}

func (r *Repository) SaveSession(ctx context.Context, s Session) error {
	userJSON, err := json.Marshal(s.User)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO bot_sessions (tg_id, token, user_json, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tg_id) DO UPDATE SET token = $2, user_json = $3, updated_at = now()
	`, s.TelegramID, s.Token, string(userJSON))
	return err
}

func (r *Repository) DeleteSession(ctx context.Context, tgID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM bot_sessions WHERE tg_id = $1`, tgID)
	return err
}

// Nudge methods
func (r *Repository) SaveNudge(ctx context.Context, tgID, challengeID, participantID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bot_nudges (tg_id, challenge_id, participant_id, nudged_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tg_id, challenge_id, participant_id)
		DO UPDATE SET nudged_at = GREATEST(bot_nudges.nudged_at, EXCLUDED.nudged_at)
	`, tgID, challengeID, participantID, at.UTC())
	return err
}

func (r *Repository) LoadNudges(ctx context.Context, tgID, challengeID int64) (map[int64]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT participant_id, nudged_at
		FROM bot_nudges WHERE tg_id = $1 AND challenge_id = $2
	`, tgID, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]time.Time)
	for rows.Next() {
		var id int64
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		out[id] = at
	}
	return out, rows.Err()
}

func (r *Repository) DeleteNudges(ctx context.Context, tgID, challengeID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM bot_nudges WHERE tg_id = $1 AND challenge_id = $2`, tgID, challengeID)
	return err
}
