package base_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/chronos/internal/calendar/base"
)

func TestBaseCalendar_ExcludeRange(t *testing.T) {
	cal := base.New()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	cal.ExcludeRange(start, end)

	require.False(t, cal.IsTimeIncluded(start))
	require.False(t, cal.IsTimeIncluded(start.Add(12*time.Hour)))
	require.False(t, cal.IsTimeIncluded(end))
	require.True(t, cal.IsTimeIncluded(end.Add(time.Second)))
	require.True(t, cal.IsTimeIncluded(start.Add(-time.Second)))
}

func TestBaseCalendar_WithParent(t *testing.T) {
	parent := base.New()
	parentExcludedStart := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	parentExcludedEnd := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	parent.ExcludeRange(parentExcludedStart, parentExcludedEnd)

	child := base.New().WithParent(parent)
	childExcludedStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	childExcludedEnd := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	child.ExcludeRange(childExcludedStart, childExcludedEnd)

	require.False(t, child.IsTimeIncluded(childExcludedStart.Add(time.Hour)), "child's own exclusion")
	require.False(t, child.IsTimeIncluded(parentExcludedStart.Add(time.Hour)), "inherited from parent")
	require.True(t, child.IsTimeIncluded(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestBaseCalendar_NoExclusionsAdmitsEverything(t *testing.T) {
	cal := base.New()
	require.True(t, cal.IsTimeIncluded(time.Now()))
}

func TestFromRanges_RoundTripsRangesAndParent(t *testing.T) {
	parent := base.FromRanges([]base.Range{{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}}, nil)

	ranges := []base.Range{{
		Start: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
	}}
	cal := base.FromRanges(ranges, parent)

	require.Equal(t, ranges, cal.Ranges())
	require.Same(t, parent, cal.Parent())
	require.False(t, cal.IsTimeIncluded(ranges[0].Start.Add(time.Hour)))
	require.False(t, cal.IsTimeIncluded(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)), "inherited from reconstructed parent")
}
