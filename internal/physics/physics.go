package physics

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	EarthRadiusKm = 6371.0088 // IUGG mean Earth radius (km)
	FeetToMeters  = 0.3048    // Conversion factor from feet to metres
)

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// HaversineKm returns the great-circle distance in kilometres between two points given in
// decimal degrees, on a spherical Earth of radius EarthRadiusKm
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push a fraction past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// InitialBearing returns the initial true bearing (0-360) from point 1 to point 2
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dLambda := radians(lon2 - lon1)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	bearing := degrees(math.Atan2(y, x))

	return NormalizeHeading(bearing)
}

// NormalizeHeading maps any angle in degrees onto [0, 360)
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(math.Mod(deg, 360)+360, 360)
	if h >= 360 {
		h = 0
	}
	return h
}

// MagneticBearing converts a true bearing into a magnetic one given the local declination
// (+East). East variation is subtracted ("east is least").
func MagneticBearing(trueBearing, declination float64) float64 {
	return NormalizeHeading(trueBearing - declination)
}

// CalculateMagneticVariation calculates the magnetic declination for a given position and time
// Returns declination in degrees (+East, -West)
func CalculateMagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	// Convert altitude to meters for WMM
	altM := altFt * FeetToMeters

	// Create location from Geodetic coordinates
	loc := egm96.NewLocationGeodetic(lat, lon, altM)

	// Calculate magnetic field
	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		// Outside the model's validity window; treat as no variation
		return 0.0
	}

	return mag.D() // Declination
}
