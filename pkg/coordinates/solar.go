package coordinates

import (
	"math"
	"time"
)

// SunPosition represents the sun's apparent position in the sky
type SunPosition struct {
	Altitude float64   `json:"altitude"` // Degrees above horizon, refraction applied
	Azimuth  float64   `json:"azimuth"`  // Degrees from north, eastward, [0, 360)
	Time     time.Time `json:"time"`     // Calculation time
}

// ComputeSunPosition returns the apparent sun position for a latitude,
// longitude and UTC instant. It fails with ErrInvalidCoordinate when the
// location is out of range; any valid location and time yields a result.
func ComputeSunPosition(latitude, longitude float64, t time.Time) (SunPosition, error) {
	if err := ValidateLatLon(latitude, longitude); err != nil {
		return SunPosition{}, err
	}
	observer := Observer{Location: Geographic{Latitude: latitude, Longitude: longitude}}
	return CalculateSunPosition(observer, t), nil
}

// CalculateSunPosition calculates the sun's position for a given observer and time.
// Uses simplified algorithms accurate to about 1 arcminute.
// Based on NOAA solar calculator algorithms.
func CalculateSunPosition(observer Observer, t time.Time) SunPosition {
	eq := SunEquatorial(t)
	horiz := EquatorialToHorizontal(eq, observer, t)

	return SunPosition{
		Altitude: horiz.Altitude + refraction(horiz.Altitude),
		Azimuth:  horiz.Azimuth,
		Time:     t,
	}
}

// SunEquatorial returns the sun's apparent right ascension and declination.
func SunEquatorial(t time.Time) EquatorialCoordinates {
	jd := julianDate(t)

	// Julian century from J2000.0
	jc := (jd - j2000) / 36525.0

	// Sun's geometric mean longitude (degrees)
	L0 := math.Mod(280.46646+jc*(36000.76983+jc*0.0003032), 360.0)

	// Sun's mean anomaly (degrees)
	M := 357.52911 + jc*(35999.05029-0.0001537*jc)
	Mrad := deg2rad(M)

	// Sun's equation of center
	C := math.Sin(Mrad)*(1.914602-jc*(0.004817+0.000014*jc)) +
		math.Sin(2*Mrad)*(0.019993-0.000101*jc) +
		math.Sin(3*Mrad)*0.000289

	// Sun's apparent longitude, corrected for aberration and nutation
	omega := 125.04 - 1934.136*jc
	lambda := L0 + C - 0.00569 - 0.00478*math.Sin(deg2rad(omega))

	// Obliquity of ecliptic (degrees)
	epsilon0 := 23.0 + (26.0+(21.448-jc*(46.815+jc*(0.00059-jc*0.001813)))/60.0)/60.0
	epsilon := epsilon0 + 0.00256*math.Cos(deg2rad(omega))

	lambdaRad := deg2rad(lambda)
	epsilonRad := deg2rad(epsilon)
	ra := rad2deg(math.Atan2(math.Cos(epsilonRad)*math.Sin(lambdaRad), math.Cos(lambdaRad)))
	dec := rad2deg(math.Asin(math.Sin(epsilonRad) * math.Sin(lambdaRad)))

	return EquatorialCoordinates{
		RightAscension: NormalizeRA(ra / 15.0),
		Declination:    dec,
	}
}

// refraction returns the atmospheric refraction correction in degrees for a
// geometric altitude, using the NOAA piecewise approximation.
func refraction(altitude float64) float64 {
	if altitude > 85.0 {
		return 0
	}
	tanAlt := math.Tan(deg2rad(altitude))
	var arcsec float64
	switch {
	case altitude > 5.0:
		arcsec = 58.1/tanAlt - 0.07/math.Pow(tanAlt, 3) + 0.000086/math.Pow(tanAlt, 5)
	case altitude > -0.575:
		arcsec = 1735.0 + altitude*(-518.2+altitude*(103.4+altitude*(-12.79+altitude*0.711)))
	default:
		arcsec = -20.772 / tanAlt
	}
	return arcsec / 3600.0
}

// AboveHorizon returns true if the sun's upper limb is above the horizon.
func (sp SunPosition) AboveHorizon() bool {
	return sp.Altitude > -0.833
}

// deg2rad converts degrees to radians
func deg2rad(deg float64) float64 {
	return deg * DegreesToRadians
}

// rad2deg converts radians to degrees
func rad2deg(rad float64) float64 {
	return rad * RadiansToDegrees
}
