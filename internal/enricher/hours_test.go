package enricher

import (
	"testing"

	"googlemaps.github.io/maps"
)

func TestParseGoogleTimeToMinutes(t *testing.T) {
	tests := []struct {
		raw  string
		want int
		ok   bool
	}{
		{"0000", 0, true},
		{"0930", 570, true},
		{"2359", 1439, true},
		{"2400", 0, false},
		{"930", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseGoogleTimeToMinutes(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseGoogleTimeToMinutes(%q) = (%d, %v), want (%d, %v)", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizeHoursSortsAndSkipsMalformed(t *testing.T) {
	periods := []maps.OpeningHoursPeriod{
		{
			Open:  maps.OpeningHoursOpenClose{Day: 1, Time: "1700"},
			Close: maps.OpeningHoursOpenClose{Day: 1, Time: "2300"},
		},
		{
			Open:  maps.OpeningHoursOpenClose{Day: 1, Time: "1100"},
			Close: maps.OpeningHoursOpenClose{Day: 1, Time: "1400"},
		},
		{
			Open:  maps.OpeningHoursOpenClose{Day: 2, Time: "bad!"},
			Close: maps.OpeningHoursOpenClose{Day: 2, Time: "1400"},
		},
	}
	out := normalizeHours(periods)
	monday := out.Periods[1]
	if len(monday) != 2 {
		t.Fatalf("expected 2 ranges for Monday, got %d", len(monday))
	}
	if monday[0].OpenMinute != 660 || monday[1].OpenMinute != 1020 {
		t.Fatalf("expected ranges sorted by opening time, got %+v", monday)
	}
	if _, ok := out.Periods[2]; ok {
		t.Fatalf("malformed period should have been skipped, got %+v", out.Periods[2])
	}
}
