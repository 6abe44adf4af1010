package geography

import (
	"math"
	"testing"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want                   float64 // meters
		tolerance              float64
	}{
		{"same point", 13.7563, 100.5018, 13.7563, 100.5018, 0, 0.001},
		{"one degree of latitude", 0, 0, 1, 0, 111195, 50},
		{"one degree of longitude at equator", 0, 0, 0, 1, 111195, 50},
		{"siam to silom", 13.7563, 100.5018, 13.7246, 100.5340, 4900, 200},
		{"bangkok to chiang mai", 13.7563, 100.5018, 18.7883, 98.9853, 581000, 5000},
		{"across the antimeridian", 0, 179.5, 0, -179.5, 111195, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("Haversine() = %.1f m, want %.1f ± %.1f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestHaversineSymmetry(t *testing.T) {
	d1 := Haversine(13.7563, 100.5018, 18.7883, 98.9853)
	d2 := Haversine(18.7883, 98.9853, 13.7563, 100.5018)
	if math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %f vs %f", d1, d2)
	}
}

func BenchmarkHaversine(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Haversine(13.7563, 100.5018, 13.7246, 100.5340)
	}
}
