package coordinates

import (
	"math"
	"time"
)

// j2000 is the Julian Date of the J2000.0 epoch (Jan 1, 2000, 12:00 TT).
const j2000 = 2451545.0

// EquatorialToHorizontal converts equatorial coordinates (RA/Dec) to
// horizontal coordinates (alt/az) for a given observer and time.
//
// Parameters:
//   - equatorial: The equatorial coordinates to convert
//   - observer: The observer's geographic location
//   - timestamp: The time of observation (UTC)
//
// Returns: HorizontalCoordinates with azimuth measured from north, eastward.
func EquatorialToHorizontal(equatorial EquatorialCoordinates, observer Observer, timestamp time.Time) HorizontalCoordinates {
	lstDeg := CalculateLocalSiderealTime(observer.Location.Longitude, timestamp) * 15.0
	haDeg := lstDeg - equatorial.RightAscension*15.0
	return hourAngleToHorizontal(haDeg, equatorial.Declination, observer.Location.Latitude)
}

// hourAngleToHorizontal converts an hour angle and declination to alt/az
// for an observer at the given latitude. All angles are in degrees.
func hourAngleToHorizontal(haDeg, decDeg, latDeg float64) HorizontalCoordinates {
	ha := haDeg * DegreesToRadians
	dec := decDeg * DegreesToRadians
	lat := latDeg * DegreesToRadians

	// alt = asin(sin(dec)·sin(lat) + cos(dec)·cos(lat)·cos(HA))
	sinAlt := math.Sin(dec)*math.Sin(lat) + math.Cos(dec)*math.Cos(lat)*math.Cos(ha)
	sinAlt = math.Max(-1, math.Min(1, sinAlt))
	alt := math.Asin(sinAlt)

	// az = atan2(-sin(HA)·cos(dec), sin(dec)·cos(lat) - cos(dec)·sin(lat)·cos(HA))
	az := math.Atan2(
		-math.Sin(ha)*math.Cos(dec),
		math.Sin(dec)*math.Cos(lat)-math.Cos(dec)*math.Sin(lat)*math.Cos(ha),
	)

	horiz := ToHorizontalDegrees(alt, az)
	horiz.Azimuth = NormalizeAzimuth(horiz.Azimuth)
	return horiz
}

// CalculateLocalSiderealTime calculates the Local Sidereal Time (LST) for
// a given longitude and UTC time.
//
// Returns: LST in decimal hours (0-24)
func CalculateLocalSiderealTime(longitudeDeg float64, utcTime time.Time) float64 {
	lstDeg := greenwichMeanSiderealDegrees(julianDate(utcTime)) + longitudeDeg
	return NormalizeRA(lstDeg / 15.0)
}

// greenwichMeanSiderealDegrees returns GMST in degrees [0, 360) for a
// Julian Date (IAU 1982 expression as used by the NOAA calculator).
func greenwichMeanSiderealDegrees(jd float64) float64 {
	jc := (jd - j2000) / 36525.0
	gmst := 280.46061837 + 360.98564736629*(jd-j2000) +
		0.000387933*jc*jc - jc*jc*jc/38710000.0
	return NormalizeAzimuth(gmst)
}

// julianDate converts a time.Time to a Julian Date, keeping sub-second
// precision. The Julian Date is the number of days since noon on
// January 1, 4713 BC.
func julianDate(t time.Time) float64 {
	t = t.UTC()
	year := t.Year()
	month := int(t.Month())
	day := t.Day()

	// Adjust for January and February
	if month <= 2 {
		year--
		month += 12
	}

	a := year / 100
	b := 2 - a + a/4

	jd := float64(int(365.25*float64(year+4716))) +
		float64(int(30.6001*float64(month+1))) +
		float64(day+b) - 1524.5

	secs := float64(t.Hour()*3600+t.Minute()*60+t.Second()) + float64(t.Nanosecond())/1e9
	return jd + secs/86400.0
}
