package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repday/internal/apitest"
	"repday/internal/initdata"
	"repday/internal/models"
)

const botToken = "123456:test-token"

func TestClientSendsHeaders(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	session := NewSession()
	session.Set("tok", models.User{ID: 1})
	c := New(srv.URL+"/", session)

	_, err := c.GetChallenges(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/challenges", got.URL.Path)
	assert.Equal(t, "Bearer tok", got.Header.Get("Authorization"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Len(t, got.Header.Get("X-Request-ID"), 36)
}

func TestClientOmitsAuthorizationWithoutToken(t *testing.T) {
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).GetChallenges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, header)
}

func TestClientNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"Next nudge available in 45 minutes"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).SendNudge(context.Background(), 1, 2)
	require.Error(t, err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Contains(t, err.Error(), "HTTP 429")
	assert.Contains(t, err.Error(), "45 minutes")
	assert.Equal(t, http.StatusTooManyRequests, StatusOf(err))
	assert.Equal(t, 0, StatusOf(errors.New("boom")))
}

func TestClientEncodesProgressBody(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/challenges/5/progress", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	delta := 10
	err := New(srv.URL, nil).UpdateProgress(context.Background(), 5, models.ProgressUpdate{Date: "2026-10-16", Delta: &delta})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"date": "2026-10-16", "delta": float64(10)}, body)
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil, WithTimeout(20*time.Millisecond)).GetChallenges(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, StatusOf(err))
}

func TestAuthTelegramRejectsEmptyInitData(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).AuthTelegram(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyInitData)
	assert.False(t, called)
}

func TestEndpointsAgainstBackend(t *testing.T) {
	backend := apitest.New(botToken)
	defer backend.Close()
	ctx := context.Background()

	raw, err := initdata.NewSigner(botToken).Sign(initdata.Data{
		User:     initdata.User{ID: 42, FirstName: "Anna"},
		AuthDate: time.Now(),
	})
	require.NoError(t, err)

	c := New(backend.URL(), nil)
	auth, err := c.AuthTelegram(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "Anna", auth.User.DisplayName)
	assert.Equal(t, int64(42), auth.User.TelegramID)

	c.Session().Set(auth.Token, auth.User)
	assert.True(t, c.Session().Valid(time.Now()))

	goal := 100
	created, err := c.CreateChallenge(ctx, models.NewChallenge{
		Title:        "Отжимания",
		GoalType:     models.GoalQuantitative,
		DailyGoal:    &goal,
		Unit:         "раз",
		DurationDays: 30,
		StartDate:    time.Now().UTC().Format(models.DateLayout),
	})
	require.NoError(t, err)
	assert.True(t, created.IsOwner)

	list, err := c.GetChallenges(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Отжимания", list[0].Title)

	detail, err := c.GetChallengeDetail(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, detail.Participants, 1)
	assert.Equal(t, auth.User.ID, detail.Participants[0].ID)

	msg, err := c.PostChallengeMessage(ctx, created.ID, "привет")
	require.NoError(t, err)
	assert.Equal(t, "привет", msg.Text)

	msgs, err := c.GetChallengeMessages(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	user, err := c.UpdateProfile(ctx, "Аня")
	require.NoError(t, err)
	assert.Equal(t, "Аня", user.DisplayName)

	require.NoError(t, c.DeleteChallenge(ctx, created.ID))
	_, err = c.GetChallengeDetail(ctx, created.ID)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
}

func TestSessionExpiry(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": 7,
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	got, err := TokenExpiry(token)
	require.NoError(t, err)
	assert.True(t, got.Equal(exp))

	s := NewSession()
	assert.False(t, s.Valid(time.Now()))

	s.Set(token, models.User{ID: 7})
	assert.True(t, s.Valid(time.Now()))
	assert.False(t, s.Valid(exp))

	s.Clear()
	_, ok := s.User()
	assert.False(t, ok)
}

func TestSessionOpaqueTokenNeverExpires(t *testing.T) {
	_, err := TokenExpiry("not-a-jwt")
	assert.Error(t, err)

	s := NewSession()
	s.Set("not-a-jwt", models.User{ID: 1})
	assert.True(t, s.ExpiresAt().IsZero())
	assert.True(t, s.Valid(time.Now().Add(365*24*time.Hour)))
}
