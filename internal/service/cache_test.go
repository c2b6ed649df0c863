package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryCachesUntilInvalidated(t *testing.T) {
	c := newCache()
	calls := 0
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, err := query(context.Background(), c, "k", false, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, _ = query(context.Background(), c, "k", false, fetch)
	assert.Equal(t, 1, v)

	v, _ = query(context.Background(), c, "k", true, fetch)
	assert.Equal(t, 2, v)

	c.invalidate("k")
	v, _ = query(context.Background(), c, "k", false, fetch)
	assert.Equal(t, 3, v)
}

func TestQueryFailureKeepsPreviousValue(t *testing.T) {
	c := newCache()
	c.put("k", 7)

	_, err := query(context.Background(), c, "k", true, func(context.Context) (int, error) {
		return 0, errors.New("offline")
	})
	assert.Error(t, err)

	v, ok := c.get("k")
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestQueryKeys(t *testing.T) {
	assert.Equal(t, "detail:5", detailKey(5))
	assert.Equal(t, "stats:5", statsKey(5))
	assert.Equal(t, "messages:5", messagesKey(5))
}
