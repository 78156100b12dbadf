package due

import (
	"testing"
	"time"
)

func TestCombineKeepsDateAndClock(t *testing.T) {
	t.Parallel()
	d := time.Date(2024, 3, 15, 22, 41, 7, 123, time.Local)
	clock := time.Date(2020, 1, 1, 9, 30, 0, 0, time.Local)

	got := Combine(d, clock)
	want := time.Date(2024, 3, 15, 9, 30, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("Combine = %v, want %v", got, want)
	}
}

func TestNextPreservesTimeOfDay(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 15, 13, 2, 55, 0, time.Local)
	orig := time.Date(2024, 3, 12, 9, 0, 0, 0, time.Local)

	got := Next(now, 3, orig)
	want := time.Date(2024, 3, 18, 9, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextCrossesMonthBoundary(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 31, 18, 0, 0, 0, time.Local)
	orig := time.Date(2024, 1, 1, 7, 45, 0, 0, time.Local)

	got := Next(now, 2, orig)
	want := time.Date(2024, 2, 2, 7, 45, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestStartOfDay(t *testing.T) {
	t.Parallel()
	got := StartOfDay(time.Date(2024, 6, 1, 23, 59, 59, 999, time.Local))
	want := time.Date(2024, 6, 1, 0, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("StartOfDay = %v, want %v", got, want)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		h, m    int
		wantErr bool
	}{
		{raw: "12:22", h: 12, m: 22},
		{raw: "0:05", h: 0, m: 5},
		{raw: " 23:59 ", h: 23, m: 59},
		{raw: "24:00", wantErr: true},
		{raw: "12:60", wantErr: true},
		{raw: "12", wantErr: true},
		{raw: "ab:cd", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			h, m, err := ParseHHMM(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseHHMM(%q): expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHHMM(%q): %v", tt.raw, err)
			}
			if h != tt.h || m != tt.m {
				t.Fatalf("ParseHHMM(%q) = %d:%d, want %d:%d", tt.raw, h, m, tt.h, tt.m)
			}
		})
	}
}
