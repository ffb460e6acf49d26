package rollup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	N int
}

func newCounter() counter { return counter{} }

func incr(c *counter) { c.N++ }

func TestWindow_RolloverMovesCurrentIntoHistory(t *testing.T) {
	var w Window[counter]
	day1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	w.Update(day1, Daily, newCounter, incr)
	w.Update(day1.Add(time.Hour), Daily, newCounter, incr)
	w.Update(day2, Daily, newCounter, incr)

	assert.Equal(t, "2025-03-02", w.Key)
	assert.Equal(t, 1, w.Current.N)
	require.Len(t, w.History, 1)
	assert.Equal(t, "2025-03-01", w.History[0].Key)
	assert.Equal(t, 2, w.History[0].Value.N)
}

func TestWindow_HistoryCap(t *testing.T) {
	var w Window[counter]
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		w.Update(start.AddDate(0, 0, i), Daily, newCounter, incr)
	}

	assert.Len(t, w.History, Daily.HistoryCap)
	assert.Equal(t, "2025-02-09", w.Key)
	assert.Equal(t, "2025-02-08", w.History[0].Key, "history is newest first")
}

func TestWindow_LateObservation(t *testing.T) {
	var w Window[counter]
	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)

	w.Update(jan, Monthly, newCounter, incr)
	w.Update(feb, Monthly, newCounter, incr)

	// Late January event lands in history, does not roll the window back.
	ok := w.Update(jan.Add(time.Hour), Monthly, newCounter, incr)
	assert.True(t, ok)
	assert.Equal(t, "2025-02", w.Key)
	v, found := w.Lookup("2025-01")
	require.True(t, found)
	assert.Equal(t, 2, v.N)

	// Outside retained history: dropped.
	ok = w.Update(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), Monthly, newCounter, incr)
	assert.False(t, ok)
}

func TestPeriodKeys(t *testing.T) {
	ts := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)

	assert.Equal(t, "2025-12-31", Daily.Key(ts))
	assert.Equal(t, "2026-W01", Weekly.Key(ts), "ISO week belongs to next year")
	assert.Equal(t, "2025-12", Monthly.Key(ts))
}
