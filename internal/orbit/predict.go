package orbit

import (
	"math"
	"time"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

// PredictLinear extrapolates the last two history points in geodetic space.
// The first returned point is the latest observation; steps further points follow
// at stepSeconds intervals. History shorter than two points yields nil.
func PredictLinear(history []types.GeoPoint, steps, stepSeconds int, adj types.Adjustment) []types.PredictionPoint {
	if len(history) < 2 {
		return nil
	}

	prev := history[len(history)-2]
	last := history[len(history)-1]

	predictions := []types.PredictionPoint{{
		Timestamp: last.Timestamp,
		Latitude:  last.Latitude,
		Longitude: last.Longitude,
		Altitude:  last.Altitude,
	}}

	// whole seconds, truncated
	dtSec := int64(last.Timestamp.Sub(prev.Timestamp) / time.Second)
	if dtSec <= 0 || steps <= 0 || stepSeconds <= 0 {
		return predictions
	}

	dt := float64(dtSec)
	dLat := (last.Latitude - prev.Latitude) / dt
	dLon := (last.Longitude - prev.Longitude) / dt
	dAlt := (last.Altitude - prev.Altitude) / dt

	if adj.Valid {
		if adj.SpeedMultiplier != 1.0 {
			dLat *= adj.SpeedMultiplier
			dLon *= adj.SpeedMultiplier
			dAlt *= adj.SpeedMultiplier
		}
		if adj.Acceleration != 0 {
			total := math.Sqrt(dLat*dLat + dLon*dLon + dAlt*dAlt)
			if total > 0 {
				factor := 1 + adj.Acceleration/total
				dLat *= factor
				dLon *= factor
				dAlt *= factor
			}
		}
		if adj.OrbitRadius != 0 {
			dAlt += adj.OrbitRadius / float64(stepSeconds)
		}
	}

	for i := 1; i <= steps; i++ {
		elapsed := float64(i * stepSeconds)
		predictions = append(predictions, types.PredictionPoint{
			Timestamp: last.Timestamp.Add(time.Duration(i*stepSeconds) * time.Second),
			Latitude:  last.Latitude + dLat*elapsed,
			Longitude: last.Longitude + dLon*elapsed,
			Altitude:  last.Altitude + dAlt*elapsed,
		})
	}

	return predictions
}

// PredictFullOrbit reconstructs Keplerian elements from the last two history points
// and samples numPoints+1 positions spanning one orbital period. Altitudes below
// MinAltitudeKm are raised to it and flagged as clamped. History shorter than two
// points, a non-positive time step or a non-elliptical state yields nil.
func PredictFullOrbit(history []types.GeoPoint, numPoints int, adj types.Adjustment) []types.PredictionPoint {
	if len(history) < 2 || numPoints < 1 {
		return nil
	}

	prev := history[len(history)-2]
	last := history[len(history)-1]

	dt := last.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		return nil
	}

	r := GeoToCartesian(last.Latitude, last.Longitude, last.Altitude)
	r0 := GeoToCartesian(prev.Latitude, prev.Longitude, prev.Altitude)
	v := r.Sub(r0).Scale(1 / dt)

	if adj.Valid {
		v = adjustVelocity(v, adj)
		r = adjustPosition(r, adj)
	}

	el, err := Elements(r, v)
	if err != nil {
		return nil
	}

	period := Period(el.SemiMajorAxis)
	e := el.Eccentricity
	predictions := make([]types.PredictionPoint, 0, numPoints+1)

	for j := 0; j <= numPoints; j++ {
		frac := float64(j) / float64(numPoints)
		m := NormalizeAngle(el.MeanAnomaly + 2*math.Pi*frac)
		E := SolveKepler(m, e)
		nu := TrueFromEccentric(E, e)
		rMag := el.SemiMajorAxis * (1 - e*math.Cos(E))

		inPlane := types.Vector3{X: rMag * math.Cos(nu), Y: rMag * math.Sin(nu)}
		pos := RotateToFrame(inPlane, el.Inclination, el.RAAN, el.ArgumentOfPeriapsis)
		lat, lon, alt := CartesianToGeo(pos)

		clamped := alt < MinAltitudeKm
		if clamped {
			alt = MinAltitudeKm
		}

		predictions = append(predictions, types.PredictionPoint{
			Timestamp: last.Timestamp.Add(time.Duration(frac * period * float64(time.Second))),
			Latitude:  lat,
			Longitude: lon,
			Altitude:  alt,
			FullOrbit: true,
			Clamped:   clamped,
		})
	}

	return predictions
}

func adjustVelocity(v types.Vector3, adj types.Adjustment) types.Vector3 {
	out := v.Scale(adj.SpeedMultiplier)
	if adj.Acceleration != 0 {
		if mag := v.Magnitude(); mag > 0 {
			out = out.Add(v.Scale(adj.Acceleration / mag))
		}
	}
	return out
}

func adjustPosition(r types.Vector3, adj types.Adjustment) types.Vector3 {
	if adj.OrbitRadius == 0 {
		return r
	}
	mag := r.Magnitude()
	if mag == 0 {
		return r
	}
	return r.Scale((mag + adj.OrbitRadius) / mag)
}
