package trajectory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

// EarthRadiusMeters is the spherical Earth radius used for geodetic to Cartesian conversion
const EarthRadiusMeters = 6378137.0

// ErrInvalidSampleWindow is returned when two samples do not span a positive time interval
var ErrInvalidSampleWindow = errors.New("invalid sample window")

// VelocityStore keeps the last derived velocity of each spacecraft
type VelocityStore interface {
	GetVelocity(ctx context.Context, externalID int64) (types.Vector3, bool, error)
	SetVelocity(ctx context.Context, externalID int64, v types.Vector3) error
}

// Deriver turns consecutive telemetry samples into trajectory points
type Deriver struct {
	store  VelocityStore
	locks  *keyedMutex
	logger *slog.Logger
}

// NewDeriver creates a Deriver backed by the given velocity store
func NewDeriver(store VelocityStore, logger *slog.Logger) *Deriver {
	return &Deriver{
		store:  store,
		locks:  newKeyedMutex(),
		logger: logger.With("component", "derivation"),
	}
}

// ToECEF converts geodetic coordinates (degrees, km) to Earth-fixed Cartesian meters
func ToECEF(latDeg, lonDeg, altKm float64) types.Vector3 {
	phi := latDeg * math.Pi / 180
	lambda := lonDeg * math.Pi / 180
	r := EarthRadiusMeters + altKm*1000

	return types.Vector3{
		X: r * math.Cos(phi) * math.Cos(lambda),
		Y: r * math.Cos(phi) * math.Sin(lambda),
		Z: r * math.Sin(phi),
	}
}

// Derive computes one trajectory point from the two oldest samples of a batch.
// A batch with fewer than two samples yields nil without error.
func (d *Deriver) Derive(ctx context.Context, externalID int64, samples []types.TelemetrySample) (*types.TrajectoryPoint, error) {
	if len(samples) < 2 {
		d.logger.Debug("skipping derivation, not enough samples", "external_id", externalID, "samples", len(samples))
		return nil, nil
	}

	first, second := samples[0], samples[1]
	dt := second.Timestamp - first.Timestamp
	if dt <= 0 {
		return nil, fmt.Errorf("%w: spacecraft %d has dt=%ds", ErrInvalidSampleWindow, externalID, dt)
	}
	dtSec := float64(dt)

	r1 := ToECEF(first.Latitude, first.Longitude, first.Altitude)
	r2 := ToECEF(second.Latitude, second.Longitude, second.Altitude)
	velocity := r2.Sub(r1).Scale(1 / dtSec)

	unlock := d.locks.Lock(externalID)
	defer unlock()

	acceleration := 0.0
	prev, ok, err := d.store.GetVelocity(ctx, externalID)
	if err != nil {
		d.logger.Warn("failed to read previous velocity", "external_id", externalID, "error", err)
	} else if ok {
		acceleration = velocity.Sub(prev).Magnitude() / dtSec
	}

	if err := d.store.SetVelocity(ctx, externalID, velocity); err != nil {
		d.logger.Warn("failed to store velocity", "external_id", externalID, "error", err)
	}

	return &types.TrajectoryPoint{
		ExternalID:     externalID,
		Timestamp:      first.Time(),
		Position:       r1,
		Velocity:       velocity,
		Speed:          velocity.Magnitude(),
		Acceleration:   acceleration,
		OrbitRadius:    r1.Magnitude(),
		Latitude:       first.Latitude,
		Longitude:      first.Longitude,
		Altitude:       first.Altitude,
		Azimuth:        first.Azimuth,
		Elevation:      first.Elevation,
		RightAscension: first.RightAscension,
		Declination:    first.Declination,
	}, nil
}

// Sweep drops expired entries when the store supports it
func (d *Deriver) Sweep() int {
	if s, ok := d.store.(interface{ Sweep() int }); ok {
		return s.Sweep()
	}
	return 0
}

// clock is swapped in tests
type clock func() time.Time
