package tasks

import (
	"testing"
	"time"
)

func TestDisplayName(t *testing.T) {
	date := time.Date(2025, time.March, 3, 18, 30, 0, 0, time.UTC)
	tests := []struct {
		name     string
		prefix   string
		category string
		want     string
	}{
		{name: "Lowercase category", prefix: "[LB]", category: "weekly exploration", want: "[LB] Weekly Exploration, Mar-03"},
		{name: "Mixed case kept", prefix: "[Spotify]", category: "RapCaviar", want: "[Spotify] RapCaviar, Mar-03"},
		{name: "No prefix", prefix: "", category: "Daily Jams", want: "Daily Jams, Mar-03"},
		{name: "Whitespace trimmed", prefix: " [LB] ", category: "  weekly jams ", want: "[LB] Weekly Jams, Mar-03"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName(tt.prefix, tt.category, date); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDisplayName(t *testing.T) {
	now := time.Date(2025, time.January, 5, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name         string
		prefix       string
		input        string
		wantOK       bool
		wantCategory string
		wantDate     time.Time
	}{
		{
			name: "Current year", prefix: "[LB]", input: "[LB] Weekly Exploration, Jan-03",
			wantOK: true, wantCategory: "Weekly Exploration", wantDate: time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "Future date belongs to last year", prefix: "[LB]", input: "[LB] Weekly Jams, Dec-30",
			wantOK: true, wantCategory: "Weekly Jams", wantDate: time.Date(2024, time.December, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "Category with comma", prefix: "[LB]", input: "[LB] Rock, Pop, Feb-01",
			wantOK: true, wantCategory: "Rock, Pop", wantDate: time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		},
		{name: "Other prefix", prefix: "[LB]", input: "[Spotify] Weekly, Jan-03"},
		{name: "No date", prefix: "[LB]", input: "[LB] Weekly Exploration"},
		{name: "Bad date", prefix: "[LB]", input: "[LB] Weekly, Foo-99"},
		{name: "Prefix only", prefix: "[LB]", input: "[LB] , Jan-03"},
		{name: "Unmanaged playlist", prefix: "[LB]", input: "Road Trip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDisplayName(tt.prefix, tt.input, now)
			if ok != tt.wantOK {
				t.Fatalf("ParseDisplayName() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Category != tt.wantCategory {
				t.Errorf("Category = %q, want %q", got.Category, tt.wantCategory)
			}
			if !got.Date.Equal(tt.wantDate) {
				t.Errorf("Date = %v, want %v", got.Date, tt.wantDate)
			}
		})
	}
}

func TestDisplayNameRoundTrip(t *testing.T) {
	now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	date := time.Date(2025, time.May, 19, 0, 0, 0, 0, time.UTC)

	name := DisplayName("[LB]", "weekly", date)
	parsed, ok := ParseDisplayName("[LB]", name, now)
	if !ok {
		t.Fatalf("ParseDisplayName(%q) failed", name)
	}
	if !sameCategory(parsed.Category, "weekly") {
		t.Errorf("Category = %q, want weekly", parsed.Category)
	}
	if !parsed.Date.Equal(date) {
		t.Errorf("Date = %v, want %v", parsed.Date, date)
	}
}
