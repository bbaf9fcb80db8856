package stream

import (
	"testing"
	"time"
)

func TestBackoffNext(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 60 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{6, 32 * time.Second},
		{7, 60 * time.Second}, // 64s capped
		{100, 60 * time.Second},
	}

	for _, tt := range tests {
		if got := b.Next(tt.attempt); got != tt.want {
			t.Errorf("Next(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffMonotonic(t *testing.T) {
	b := Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := b.Next(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v -> %v", attempt, prev, d)
		}
		if d > 30*time.Second {
			t.Fatalf("delay exceeds cap at attempt %d: %v", attempt, d)
		}
		prev = d
	}
}

func TestBackoffDefaults(t *testing.T) {
	var b Backoff
	if got := b.Next(1); got != time.Second {
		t.Errorf("zero-value base = %v, want 1s", got)
	}
	if got := b.Next(50); got != 60*time.Second {
		t.Errorf("zero-value cap = %v, want 60s", got)
	}
	if got := b.Next(0); got != time.Second {
		t.Errorf("attempt 0 = %v, want 1s", got)
	}
}
