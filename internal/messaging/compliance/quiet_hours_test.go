package compliance

import (
	"testing"
	"time"
)

func TestQuietHoursSuppressDaytimeWindow(t *testing.T) {
	q, err := ParseQuietHours("21:00", "07:30", "UTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tests := []struct {
		ts      string
		want    bool
		purpose Purpose
	}{
		{"2024-10-05T22:00:00Z", true, PurposeMarketing},
		{"2024-10-05T06:59:00Z", true, PurposeMarketing},
		{"2024-10-05T08:00:00Z", false, PurposeMarketing},
		{"2024-10-05T22:00:00Z", false, PurposeTransactional},
	}
	for _, tc := range tests {
		ts, _ := time.Parse(time.RFC3339, tc.ts)
		if got := q.Suppress(ts, tc.purpose); got != tc.want {
			t.Fatalf("Suppress(%s,%s)=%v want %v", tc.ts, tc.purpose, got, tc.want)
		}
	}
}

func TestQuietHoursSuppressSimpleWindow(t *testing.T) {
	q, err := ParseQuietHours("22:00", "23:00", "UTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ts, _ := time.Parse(time.RFC3339, "2024-10-05T22:30:00Z")
	if !q.Suppress(ts, PurposeMarketing) {
		t.Fatalf("expected suppression")
	}
	ts, _ = time.Parse(time.RFC3339, "2024-10-05T21:30:00Z")
	if q.Suppress(ts, PurposeMarketing) {
		t.Fatalf("expected no suppression")
	}
}

func TestParseQuietHoursValidationErrors(t *testing.T) {
	if _, err := ParseQuietHours("", "07:00", "UTC"); err == nil {
		t.Fatalf("expected error for empty start clock")
	}
	if _, err := ParseQuietHours("07:00", "08:00", "Mars/Phobos"); err == nil {
		t.Fatalf("expected error for invalid timezone")
	}
	if _, err := ParseQuietHours("bad", "08:00", "UTC"); err == nil {
		t.Fatalf("expected error for malformed start time")
	}
}

func TestQuietHoursSuppressDisabledOrNonMarketing(t *testing.T) {
	var q QuietHours
	now := time.Now()
	if q.Suppress(now, PurposeMarketing) {
		t.Fatalf("zero quiet hours should be disabled")
	}
	parsed, err := ParseQuietHours("00:00", "23:59", "UTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Suppress(now, PurposeTransactional) {
		t.Fatalf("transactional sends should bypass quiet hours")
	}
}

func TestQuietHoursNextAllowed(t *testing.T) {
	q, err := ParseQuietHours("21:00", "08:00", "America/Los_Angeles")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	loc, _ := time.LoadLocation("America/Los_Angeles")

	late := time.Date(2024, 6, 1, 22, 15, 0, 0, loc)
	want := time.Date(2024, 6, 2, 8, 0, 0, 0, loc)
	if got := q.NextAllowed(late, PurposeMarketing); !got.Equal(want) {
		t.Fatalf("NextAllowed(late) = %s, want %s", got, want)
	}

	early := time.Date(2024, 6, 2, 6, 0, 0, 0, loc)
	if got := q.NextAllowed(early, PurposeMarketing); !got.Equal(want) {
		t.Fatalf("NextAllowed(early) = %s, want %s", got, want)
	}

	if got := q.NextAllowed(late, PurposeTransactional); !got.Equal(late) {
		t.Fatalf("transactional sends are never held, got %s", got)
	}

	midday := time.Date(2024, 6, 2, 12, 0, 0, 0, loc)
	if got := q.NextAllowed(midday, PurposeMarketing); !got.Equal(midday) {
		t.Fatalf("expected immediate send at midday, got %s", got)
	}
}

func TestQuietHoursDisabled(t *testing.T) {
	q, err := ParseQuietHours("", "", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Enabled() {
		t.Fatalf("expected disabled window")
	}
	now := time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)
	if q.Suppress(now, PurposeMarketing) {
		t.Fatalf("disabled window must not suppress")
	}
}
