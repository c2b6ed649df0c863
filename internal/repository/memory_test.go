package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Store = (*Memory)(nil)
var _ Store = (*Repository)(nil)

func TestMemorySessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetSession(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SaveSession(ctx, Session{TelegramID: 1, Token: "a"}))
	s, err := m.GetSession(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", s.Token)
	assert.False(t, s.UpdatedAt.IsZero())

	require.NoError(t, m.DeleteSession(ctx, 1))
	_, err = m.GetSession(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryNudgesNeverRegress(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	require.NoError(t, m.SaveNudge(ctx, 1, 5, 9, now))
	require.NoError(t, m.SaveNudge(ctx, 1, 5, 9, now.Add(-time.Hour)))

	got, err := m.LoadNudges(ctx, 1, 5)
	require.NoError(t, err)
	assert.True(t, got[9].Equal(now))

	other, _ := m.LoadNudges(ctx, 2, 5)
	assert.Empty(t, other)

	require.NoError(t, m.DeleteNudges(ctx, 1, 5))
	got, _ = m.LoadNudges(ctx, 1, 5)
	assert.Empty(t, got)
}
