package models

import (
	"testing"
	"time"
)

func TestSanitizeNsu(t *testing.T) {
	cases := []struct {
		in       int64
		expected int64
	}{
		{-1, 0},
		{-999, 0},
		{0, 0},
		{42, 42},
	}
	for _, tc := range cases {
		if got := SanitizeNsu(tc.in); got != tc.expected {
			t.Fatalf("SanitizeNsu(%d) expected %d, got %d", tc.in, tc.expected, got)
		}
	}
}

func TestAdvanceNsuNeverRegresses(t *testing.T) {
	cases := []struct {
		current  int64
		returned int64
		expected int64
	}{
		{10, 20, 20},
		{20, 10, 20}, // stale cursor from upstream
		{20, 20, 20},
		{0, 0, 0},
	}
	for _, tc := range cases {
		if got := AdvanceNsu(tc.current, tc.returned); got != tc.expected {
			t.Fatalf("AdvanceNsu(%d, %d) expected %d, got %d", tc.current, tc.returned, tc.expected, got)
		}
	}
}

func TestSyncStateIsBlocked(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	var state SyncState
	if state.IsBlocked(now) {
		t.Fatal("nil BlockUntil must not block")
	}

	past := now.Add(-time.Minute)
	state.BlockUntil = &past
	if state.IsBlocked(now) {
		t.Fatal("expired window must not block")
	}

	future := now.Add(time.Minute)
	state.BlockUntil = &future
	if !state.IsBlocked(now) {
		t.Fatal("future window must block")
	}
}

func TestRunStatus(t *testing.T) {
	cases := []struct {
		total    int
		failed   int
		expected string
	}{
		{5, 0, RunSuccess},
		{5, 2, RunPartial},
		{5, 5, RunError},
		{3, 3, "error"},
		{0, 0, RunSuccess},
	}
	for _, tc := range cases {
		if got := RunStatus(tc.total, tc.failed); got != tc.expected {
			t.Fatalf("RunStatus(%d, %d) expected %s, got %s", tc.total, tc.failed, tc.expected, got)
		}
	}
}
