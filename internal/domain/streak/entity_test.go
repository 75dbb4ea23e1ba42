package streak

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unilingo/progress-engine/pkg/timeutil"
)

var day0 = timeutil.MustParseDate("2026-03-01")

func TestAdvance_FromEmptyStarts(t *testing.T) {
	s := &State{UserID: "u1", StreakType: TypeDailyStudy}

	out := s.Advance(day0)

	assert.Equal(t, OutcomeStarted, out)
	assert.Equal(t, 1, s.CurrentStreak)
	assert.Equal(t, 1, s.LongestStreak)
	assert.Equal(t, day0, s.LastActivityDate)
	assert.Equal(t, day0, s.StartDate)
}

func TestAdvance_SameDayIsIdempotent(t *testing.T) {
	s := Start("u1", TypeDailyStudy, day0)
	s.Advance(day0.AddDays(1))
	before := *s

	out := s.Advance(day0.AddDays(1))

	assert.Equal(t, OutcomeUnchanged, out)
	assert.Equal(t, before, *s)
}

func TestAdvance_NextDayExtends(t *testing.T) {
	s := Start("u1", TypeDailyStudy, day0)

	out := s.Advance(day0.AddDays(1))

	assert.Equal(t, OutcomeExtended, out)
	assert.Equal(t, 2, s.CurrentStreak)
	assert.Equal(t, 2, s.LongestStreak)
	assert.Equal(t, day0, s.StartDate)
}

func TestAdvance_GapResetsButKeepsLongest(t *testing.T) {
	s := Start("u1", TypeDailyStudy, day0)
	for i := 1; i <= 4; i++ {
		s.Advance(day0.AddDays(i))
	}
	require.Equal(t, 5, s.CurrentStreak)

	for _, k := range []int{2, 3, 10} {
		c := *s
		out := c.Advance(s.LastActivityDate.AddDays(k))
		assert.Equal(t, OutcomeReset, out, "gap of %d days", k)
		assert.Equal(t, 1, c.CurrentStreak)
		assert.Equal(t, 5, c.LongestStreak)
		assert.Equal(t, s.LastActivityDate.AddDays(k), c.StartDate)
	}
}

func TestAdvance_BackdatedActivityIgnored(t *testing.T) {
	s := Start("u1", TypeDailyStudy, day0)
	before := *s

	assert.Equal(t, OutcomeUnchanged, s.Advance(day0.AddDays(-3)))
	assert.Equal(t, before, *s)
}

func TestAdvance_LongestIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := &State{UserID: "u1", StreakType: TypeDailyStudy}
	today := day0
	prevLongest := 0

	for i := 0; i < 500; i++ {
		today = today.AddDays(rng.Intn(4))
		s.Advance(today)
		assert.GreaterOrEqual(t, s.LongestStreak, prevLongest)
		assert.GreaterOrEqual(t, s.LongestStreak, s.CurrentStreak)
		prevLongest = s.LongestStreak
	}
}

func TestEffective(t *testing.T) {
	s := Start("u1", TypeDailyStudy, day0)
	s.Advance(day0.AddDays(1))

	assert.Equal(t, 2, s.Effective(day0.AddDays(1)), "same day")
	assert.Equal(t, 2, s.Effective(day0.AddDays(2)), "yesterday still counts")
	assert.Equal(t, 0, s.Effective(day0.AddDays(3)), "two days ago is broken")
	assert.Equal(t, 2, s.CurrentStreak, "stored value is not corrected on read")

	var none *State
	assert.Equal(t, 0, none.Effective(day0))
}

func TestIsAtRisk(t *testing.T) {
	s := Start("u1", TypeDailyStudy, day0)

	assert.False(t, s.IsAtRisk(day0))
	assert.True(t, s.IsAtRisk(day0.AddDays(1)))
	assert.False(t, s.IsAtRisk(day0.AddDays(2)))
}
