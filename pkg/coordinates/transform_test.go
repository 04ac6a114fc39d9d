package coordinates

import (
	"math"
	"testing"
	"time"
)

func TestJulianDate(t *testing.T) {
	tests := []struct {
		name string
		time time.Time
		want float64
	}{
		{"J2000 epoch", time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC), 2451545.0},
		{"Midnight before J2000", time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), 2451544.5},
		{"Half second", time.Date(2000, 1, 1, 12, 0, 0, 500_000_000, time.UTC), 2451545.0 + 0.5/86400},
		{"Non-UTC zone is converted", time.Date(2000, 1, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600)), 2451545.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := julianDate(tt.time); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("julianDate() = %.9f, want %.9f", got, tt.want)
			}
		})
	}
}

func TestCalculateLocalSiderealTime(t *testing.T) {
	j2000Time := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)

	// GMST at J2000.0 is 280.46061837 degrees
	wantGreenwich := 280.46061837 / 15.0
	if got := CalculateLocalSiderealTime(0, j2000Time); math.Abs(got-wantGreenwich) > 1e-6 {
		t.Errorf("LST at Greenwich = %.6f, want %.6f", got, wantGreenwich)
	}

	// 15 degrees of longitude is one hour of sidereal time
	east := CalculateLocalSiderealTime(15, j2000Time)
	if diff := NormalizeRA(east - wantGreenwich); math.Abs(diff-1.0) > 1e-6 {
		t.Errorf("LST offset for 15°E = %.6f h, want 1 h", diff)
	}
}

func TestEquatorialToHorizontal(t *testing.T) {
	ts := time.Date(2024, 3, 20, 22, 0, 0, 0, time.UTC)
	observer := Observer{Location: Geographic{Latitude: 40.0, Longitude: -105.0}}
	lst := CalculateLocalSiderealTime(observer.Location.Longitude, ts)

	tests := []struct {
		name    string
		eq      EquatorialCoordinates
		wantAlt float64
		wantAz  float64
		checkAz bool
	}{
		{
			name:    "Celestial pole sits at observer latitude",
			eq:      EquatorialCoordinates{RightAscension: 3.0, Declination: 90.0},
			wantAlt: 40.0,
		},
		{
			name:    "Equator on the meridian culminates due south",
			eq:      EquatorialCoordinates{RightAscension: lst, Declination: 0.0},
			wantAlt: 50.0,
			wantAz:  180.0,
			checkAz: true,
		},
		{
			name:    "Six hours west of the meridian sets due west",
			eq:      EquatorialCoordinates{RightAscension: NormalizeRA(lst - 6.0), Declination: 0.0},
			wantAlt: 0.0,
			wantAz:  270.0,
			checkAz: true,
		},
		{
			name:    "Six hours east of the meridian rises due east",
			eq:      EquatorialCoordinates{RightAscension: NormalizeRA(lst + 6.0), Declination: 0.0},
			wantAlt: 0.0,
			wantAz:  90.0,
			checkAz: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EquatorialToHorizontal(tt.eq, observer, ts)
			if math.Abs(got.Altitude-tt.wantAlt) > 1e-6 {
				t.Errorf("Altitude = %.6f, want %.6f", got.Altitude, tt.wantAlt)
			}
			if tt.checkAz && azimuthDiff(got.Azimuth, tt.wantAz) > 1e-6 {
				t.Errorf("Azimuth = %.6f, want %.6f", got.Azimuth, tt.wantAz)
			}
		})
	}
}

func TestNormalizeAzimuth(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{360, 0},
		{-90, 270},
		{725, 5},
		{-450, 270},
	}
	for _, tt := range tests {
		if got := NormalizeAzimuth(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeAzimuth(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidateLatLon(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		wantErr  bool
	}{
		{"Origin", 0, 0, false},
		{"Poles and antimeridian", -90, 180, false},
		{"Latitude too high", 90.0001, 0, true},
		{"Longitude too low", 0, -180.5, true},
		{"NaN latitude", math.NaN(), 0, true},
		{"Infinite longitude", 0, math.Inf(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLatLon(tt.lat, tt.lon)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateLatLon() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// azimuthDiff returns the absolute difference between two azimuths,
// accounting for wrap-around (359° vs 1°).
func azimuthDiff(a, b float64) float64 {
	d := math.Abs(NormalizeAzimuth(a) - NormalizeAzimuth(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}
