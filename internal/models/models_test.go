package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestProgressPercentAmountGoals(t *testing.T) {
	for _, g := range []GoalType{GoalQuantitative, GoalTime} {
		assert.Equal(t, 50, ProgressPercent(g, intPtr(100), 50, false))
		assert.Equal(t, 33, ProgressPercent(g, intPtr(3), 1, false))
		assert.Equal(t, 67, ProgressPercent(g, intPtr(3), 2, false))
		assert.Equal(t, 100, ProgressPercent(g, intPtr(10), 25, false), "capped at 100")
		assert.Equal(t, 0, ProgressPercent(g, nil, 25, true), "no goal set")
		assert.Equal(t, 0, ProgressPercent(g, intPtr(0), 25, true), "zero goal")
	}
}

func TestProgressPercentCheckin(t *testing.T) {
	assert.Equal(t, 100, ProgressPercent(GoalCheckin, nil, 0, true))
	assert.Equal(t, 0, ProgressPercent(GoalCheckin, intPtr(1), 1, false))
}

func TestChallengeDetailMe(t *testing.T) {
	d := ChallengeDetail{Participants: []Participant{{ID: 1, DisplayName: "a"}, {ID: 2, DisplayName: "b"}}}

	me := d.Me(2)
	if assert.NotNil(t, me) {
		assert.Equal(t, "b", me.DisplayName)
	}
	assert.Nil(t, d.Me(3))

	_, ok := d.Participant(3)
	assert.False(t, ok)
}

func TestChallengeDetailShort(t *testing.T) {
	d := ChallengeDetail{ID: 7, Title: "Push-ups", GoalType: GoalQuantitative, DailyGoal: intPtr(50), Unit: "reps", DurationDays: 30}
	s := d.Short()

	assert.Equal(t, int64(7), s.ID)
	assert.Equal(t, "Push-ups", s.Title)
	assert.Equal(t, 50, *s.DailyGoal)
	assert.Equal(t, 0, *s.TodayProgressValue)
	assert.Equal(t, 0, *s.DaysCompleted)
}
