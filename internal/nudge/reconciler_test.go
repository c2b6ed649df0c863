package nudge

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repday/internal/models"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func iso(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func detailWith(ps ...models.Participant) *models.ChallengeDetail {
	return &models.ChallengeDetail{ID: 1, Participants: ps}
}

func TestNoTimestampIsReady(t *testing.T) {
	r := NewReconciler(nil)
	e := r.Eligibility(models.Participant{ID: 2})

	assert.True(t, e.CanNudge())
	assert.Equal(t, "Пнуть", e.Label())
}

func TestEligibilityScenarios(t *testing.T) {
	c := &clock{t: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
	r := NewReconciler(c.Now)

	r.Observe(detailWith(
		models.Participant{ID: 2, LastNudgeAt: iso(c.t.Add(-61 * time.Minute))},
		models.Participant{ID: 3, LastNudgeAt: iso(c.t.Add(-59 * time.Minute))},
		models.Participant{ID: 4, LastNudgeAt: iso(c.t.Add(-5 * time.Minute)), TodayCompleted: true},
	), 1)

	e := r.Eligibility(models.Participant{ID: 2})
	assert.True(t, e.CanNudge())
	assert.Equal(t, "Пнуть", e.Label())

	e = r.Eligibility(models.Participant{ID: 3})
	assert.False(t, e.CanNudge())
	assert.Equal(t, 1, e.MinutesLeft)
	assert.Equal(t, "Через 1м", e.Label())

	e = r.Eligibility(models.Participant{ID: 4, TodayCompleted: true})
	assert.False(t, e.CanNudge())
	assert.Equal(t, CompletedToday, e.Status)
	assert.Equal(t, "Завтра", e.Label())

	// completed today wins even without any timestamp
	e = r.Eligibility(models.Participant{ID: 9, TodayCompleted: true})
	assert.Equal(t, "Завтра", e.Label())
}

func TestObserveSkipsViewerAndGarbage(t *testing.T) {
	c := &clock{t: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
	r := NewReconciler(c.Now)
	bad := "not-a-date"
	empty := ""

	r.Observe(detailWith(
		models.Participant{ID: 1, LastNudgeAt: iso(c.t)},
		models.Participant{ID: 2, LastNudgeAt: &bad},
		models.Participant{ID: 3, LastNudgeAt: &empty},
	), 1)

	for _, id := range []int64{1, 2, 3} {
		_, ok := r.Last(id)
		assert.False(t, ok, "participant %d", id)
	}
}

func TestServerValueNeverRegressesLocal(t *testing.T) {
	c := &clock{t: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
	r := NewReconciler(c.Now)

	local := r.MarkNudged(2)
	r.Observe(detailWith(models.Participant{ID: 2, LastNudgeAt: iso(c.t.Add(-2 * time.Hour))}), 1)

	got, ok := r.Last(2)
	require.True(t, ok)
	assert.True(t, got.Equal(local))
	assert.False(t, r.Eligibility(models.Participant{ID: 2}).CanNudge())
}

func TestNewerServerValueWins(t *testing.T) {
	c := &clock{t: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
	r := NewReconciler(c.Now)
	r.Seed(map[int64]time.Time{2: c.t.Add(-3 * time.Hour)})

	server := c.t.Add(-10 * time.Minute)
	r.Observe(detailWith(models.Participant{ID: 2, LastNudgeAt: iso(server)}), 1)

	got, _ := r.Last(2)
	assert.True(t, got.Equal(server))
	assert.Equal(t, 50, r.Eligibility(models.Participant{ID: 2}).MinutesLeft)
}

func TestNaiveServerTimestampIsUTC(t *testing.T) {
	at, ok := ParseTimestamp("2026-10-16T09:30:00.123456")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 16, 9, 30, 0, 123456000, time.UTC), at)

	at, ok = ParseTimestamp("2026-10-16T12:30:00+03:00")
	require.True(t, ok)
	assert.True(t, at.Equal(time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)))
}

// Random interleavings of server observations and local writes never move an entry back.
func TestReconciledTimestampIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	for run := 0; run < 200; run++ {
		c := &clock{t: base}
		r := NewReconciler(c.Now)
		var prev time.Time

		for step := 0; step < 50; step++ {
			c.t = c.t.Add(time.Duration(rng.Intn(600)) * time.Second)
			if rng.Intn(3) == 0 {
				r.MarkNudged(2)
			} else {
				skew := time.Duration(rng.Intn(4*3600)-2*3600) * time.Second
				r.Observe(detailWith(models.Participant{ID: 2, LastNudgeAt: iso(c.t.Add(skew))}), 1)
			}
			cur, ok := r.Last(2)
			require.True(t, ok)
			require.False(t, cur.Before(prev), "run %d step %d regressed", run, step)
			prev = cur
		}
	}
}

func TestMinutesLeftFormula(t *testing.T) {
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 60},
		{time.Millisecond, 60},
		{59 * time.Minute, 1},
		{59*time.Minute + 59*time.Second, 1},
		{30*time.Minute + time.Second, 30},
		{Cooldown, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MinutesLeft(tc.elapsed), "elapsed %s", tc.elapsed)
	}

	for ms := int64(0); ms < Cooldown.Milliseconds(); ms += 997 {
		remaining := Cooldown.Milliseconds() - ms
		want := int((remaining + 59_999) / 60_000)
		if want < 1 {
			want = 1
		}
		require.Equal(t, want, MinutesLeft(time.Duration(ms)*time.Millisecond), "elapsed %dms", ms)
	}
}

func TestCooldownElapsedIsEligible(t *testing.T) {
	c := &clock{t: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
	r := NewReconciler(c.Now)
	r.MarkNudged(2)

	c.t = c.t.Add(Cooldown)
	assert.True(t, r.Eligibility(models.Participant{ID: 2}).CanNudge())
}
