package orbit

import (
	"errors"
	"math"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

const (
	// MuEarth is Earth's gravitational parameter in km³/s²
	MuEarth = 398600.4418
	// EarthRadiusKm is the spherical Earth radius used by prediction
	EarthRadiusKm = 6371.0
	// MinAltitudeKm is the floor applied to reconstructed altitudes
	MinAltitudeKm = 350.0

	keplerMaxIterations = 10
	keplerTolerance     = 1e-8
	circularEpsilon     = 1e-10
)

// ErrDegenerateOrbit is returned when a state vector does not describe a closed orbit
var ErrDegenerateOrbit = errors.New("state vector does not describe an elliptical orbit")

// GeoToCartesian converts geodetic degrees and km altitude to Earth-fixed km
func GeoToCartesian(latDeg, lonDeg, altKm float64) types.Vector3 {
	phi := latDeg * math.Pi / 180
	lambda := lonDeg * math.Pi / 180
	r := EarthRadiusKm + altKm
	return types.Vector3{
		X: r * math.Cos(phi) * math.Cos(lambda),
		Y: r * math.Cos(phi) * math.Sin(lambda),
		Z: r * math.Sin(phi),
	}
}

// CartesianToGeo converts Earth-fixed km to latitude, longitude (degrees) and altitude (km)
func CartesianToGeo(p types.Vector3) (lat, lon, alt float64) {
	r := p.Magnitude()
	lat = math.Asin(p.Z/r) * 180 / math.Pi
	lon = math.Atan2(p.Y, p.X) * 180 / math.Pi
	return lat, lon, r - EarthRadiusKm
}

// NormalizeAngle maps theta into [0, 2π)
func NormalizeAngle(theta float64) float64 {
	theta = math.Mod(theta, 2*math.Pi)
	if theta < 0 {
		theta += 2 * math.Pi
	}
	return theta
}

// SolveKepler solves E - e·sin(E) = M for the eccentric anomaly by Newton-Raphson
func SolveKepler(m, e float64) float64 {
	E := m
	for i := 0; i < keplerMaxIterations; i++ {
		f := E - e*math.Sin(E) - m
		fp := 1 - e*math.Cos(E)
		step := f / fp
		E -= step
		if math.Abs(step) < keplerTolerance {
			break
		}
	}
	return E
}

// TrueFromEccentric recovers the true anomaly from the eccentric anomaly
func TrueFromEccentric(E, e float64) float64 {
	return 2 * math.Atan2(
		math.Sqrt(1+e)*math.Sin(E/2),
		math.Sqrt(1-e)*math.Cos(E/2),
	)
}

// Period returns the orbital period in seconds for a semi-major axis in km
func Period(a float64) float64 {
	return 2 * math.Pi * math.Sqrt(a*a*a/MuEarth)
}

// Elements recovers classical orbital elements from a position (km) and velocity (km/s).
// Circular or equatorial orbits, where the node or periapsis is undefined, use a zero
// angle for the undefined element and measure the anomaly from the next defined reference.
func Elements(r, v types.Vector3) (types.OrbitalElements, error) {
	rMag := r.Magnitude()
	vMag := v.Magnitude()
	if rMag == 0 {
		return types.OrbitalElements{}, ErrDegenerateOrbit
	}

	h := r.Cross(v)
	hMag := h.Magnitude()
	if hMag == 0 {
		return types.OrbitalElements{}, ErrDegenerateOrbit
	}

	n := types.Vector3{X: -h.Y, Y: h.X}
	nMag := n.Magnitude()
	rDotV := r.Dot(v)

	eVec := r.Scale(vMag*vMag - MuEarth/rMag).Sub(v.Scale(rDotV)).Scale(1 / MuEarth)
	ecc := eVec.Magnitude()

	energy := vMag*vMag/2 - MuEarth/rMag
	if energy >= 0 || ecc >= 1 {
		return types.OrbitalElements{}, ErrDegenerateOrbit
	}
	a := -MuEarth / (2 * energy)

	inc := math.Acos(clamp(h.Z / hMag))

	raan := 0.0
	if nMag > circularEpsilon {
		raan = math.Acos(clamp(n.X / nMag))
		if n.Y < 0 {
			raan = 2*math.Pi - raan
		}
	}

	var argp, nu float64
	switch {
	case ecc > circularEpsilon && nMag > circularEpsilon:
		argp = math.Acos(clamp(n.Dot(eVec) / (nMag * ecc)))
		if eVec.Z < 0 {
			argp = 2*math.Pi - argp
		}
		nu = math.Acos(clamp(eVec.Dot(r) / (ecc * rMag)))
		if rDotV < 0 {
			nu = 2*math.Pi - nu
		}
	case ecc > circularEpsilon:
		// equatorial: periapsis measured from the x axis
		argp = math.Atan2(eVec.Y, eVec.X)
		if h.Z < 0 {
			argp = 2*math.Pi - argp
		}
		argp = NormalizeAngle(argp)
		nu = math.Acos(clamp(eVec.Dot(r) / (ecc * rMag)))
		if rDotV < 0 {
			nu = 2*math.Pi - nu
		}
	case nMag > circularEpsilon:
		// circular inclined: argument of latitude
		nu = math.Acos(clamp(n.Dot(r) / (nMag * rMag)))
		if r.Z < 0 {
			nu = 2*math.Pi - nu
		}
	default:
		// circular equatorial: true longitude
		nu = NormalizeAngle(math.Atan2(r.Y, r.X))
		if h.Z < 0 {
			nu = NormalizeAngle(-nu)
		}
	}

	E := math.Atan2(math.Sqrt(1-ecc*ecc)*math.Sin(nu), ecc+math.Cos(nu))
	m0 := E - ecc*math.Sin(E)

	return types.OrbitalElements{
		SemiMajorAxis:       a,
		Eccentricity:        ecc,
		Inclination:         inc,
		RAAN:                raan,
		ArgumentOfPeriapsis: argp,
		MeanAnomaly:         m0,
	}, nil
}

// RotateToFrame applies the 3-1-3 (Ω, i, ω) rotation from the orbital plane to the Earth-fixed frame
func RotateToFrame(p types.Vector3, inc, raan, argp float64) types.Vector3 {
	cosO, sinO := math.Cos(raan), math.Sin(raan)
	cosw, sinw := math.Cos(argp), math.Sin(argp)
	cosI, sinI := math.Cos(inc), math.Sin(inc)

	xx := cosO*cosw - sinO*sinw*cosI
	xy := -cosO*sinw - sinO*cosw*cosI
	xz := sinO * sinI

	yx := sinO*cosw + cosO*sinw*cosI
	yy := -sinO*sinw + cosO*cosw*cosI
	yz := -cosO * sinI

	zx := sinw * sinI
	zy := cosw * sinI
	zz := cosI

	return types.Vector3{
		X: xx*p.X + xy*p.Y + xz*p.Z,
		Y: yx*p.X + yy*p.Y + yz*p.Z,
		Z: zx*p.X + zy*p.Y + zz*p.Z,
	}
}

func clamp(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}
