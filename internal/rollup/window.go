// Package rollup implements calendar-period aggregate windows with bounded
// history. One generic Window serves the daily, weekly and monthly rollovers.
package rollup

import (
	"fmt"
	"time"
)

// Period maps a time to a sortable period key and bounds the history kept
// for that period.
type Period struct {
	Name       string
	Key        func(t time.Time) string
	HistoryCap int
}

// Standard periods. Keys sort lexicographically in time order.
var (
	Daily = Period{
		Name:       "daily",
		Key:        func(t time.Time) string { return t.UTC().Format("2006-01-02") },
		HistoryCap: 30,
	}
	Weekly = Period{
		Name: "weekly",
		Key: func(t time.Time) string {
			y, w := t.UTC().ISOWeek()
			return fmt.Sprintf("%04d-W%02d", y, w)
		},
		HistoryCap: 12,
	}
	Monthly = Period{
		Name:       "monthly",
		Key:        func(t time.Time) string { return t.UTC().Format("2006-01") },
		HistoryCap: 12,
	}
)

// Entry is a closed period in a window's history.
type Entry[T any] struct {
	Key   string `json:"key"`
	Value T      `json:"value"`
}

// Window holds the aggregate for the current period plus closed periods,
// newest first.
type Window[T any] struct {
	Key     string     `json:"key"`
	Current T          `json:"current"`
	History []Entry[T] `json:"history"`
}

// Advance rolls the window forward to the period containing now. The
// current aggregate moves into history, which is truncated to the period's
// cap. Returns true when a rollover happened.
func (w *Window[T]) Advance(now time.Time, p Period, zero func() T) bool {
	key := p.Key(now)
	if w.Key == key || (w.Key != "" && key < w.Key) {
		return false
	}
	if w.Key != "" {
		w.History = append([]Entry[T]{{Key: w.Key, Value: w.Current}}, w.History...)
		if p.HistoryCap >= 0 && len(w.History) > p.HistoryCap {
			w.History = w.History[:p.HistoryCap]
		}
	}
	w.Key = key
	w.Current = zero()
	return true
}

// Update applies fn to the aggregate of the period containing at. Late
// observations land in their history entry when it is still retained and
// are dropped otherwise. Returns false when the observation was dropped.
func (w *Window[T]) Update(at time.Time, p Period, zero func() T, fn func(*T)) bool {
	w.Advance(at, p, zero)
	key := p.Key(at)
	if key == w.Key {
		fn(&w.Current)
		return true
	}
	for i := range w.History {
		if w.History[i].Key == key {
			fn(&w.History[i].Value)
			return true
		}
	}
	return false
}

// Lookup returns the aggregate stored for key.
func (w *Window[T]) Lookup(key string) (T, bool) {
	if key != "" && key == w.Key {
		return w.Current, true
	}
	for _, e := range w.History {
		if e.Key == key {
			return e.Value, true
		}
	}
	var zero T
	return zero, false
}
