package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repday/internal/models"
)

func newMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock
}

func TestGetSession(t *testing.T) {
	repo, mock := newMock(t)
	updated := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM bot_sessions WHERE tg_id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"tg_id", "token", "user_json", "updated_at"}).
			AddRow(int64(42), "tok", `{"id":7,"telegram_id":42,"display_name":"Anna"}`, updated))

	s, err := repo.GetSession(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "tok", s.Token)
	assert.Equal(t, int64(7), s.User.ID)
	assert.Equal(t, "Anna", s.User.DisplayName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("FROM bot_sessions").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"tg_id", "token", "user_json", "updated_at"}))

	_, err := repo.GetSession(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveSessionUpserts(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (tg_id) DO UPDATE")).
		WithArgs(int64(42), "tok", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveSession(context.Background(), Session{TelegramID: 42, Token: "tok", User: models.User{ID: 7}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveNudgeKeepsGreatest(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("GREATEST(bot_nudges.nudged_at, EXCLUDED.nudged_at)")).
		WithArgs(int64(42), int64(5), int64(9), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveNudge(context.Background(), 42, 5, 9, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadNudges(t *testing.T) {
	repo, mock := newMock(t)
	at := time.Date(2026, 10, 16, 11, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM bot_nudges WHERE tg_id = $1 AND challenge_id = $2")).
		WithArgs(int64(42), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"participant_id", "nudged_at"}).
			AddRow(int64(9), at).
			AddRow(int64(10), at.Add(time.Minute)))

	got, err := repo.LoadNudges(context.Background(), 42, 5)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, got[9].Equal(at))
}

func TestMigrate(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS bot_sessions").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
