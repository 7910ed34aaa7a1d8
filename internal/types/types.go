package types

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Vector3 is a Cartesian vector in an Earth-fixed frame
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns v * k
func (v Vector3) Scale(k float64) Vector3 {
	return Vector3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Dot returns the scalar product of v and o
func (v Vector3) Dot(o Vector3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Cross returns the vector product v × o
func (v Vector3) Cross(o Vector3) Vector3 {
	return Vector3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Magnitude returns the Euclidean norm of v
func (v Vector3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// TelemetrySample is one raw observation returned by the external tracking source
type TelemetrySample struct {
	Latitude       float64 `json:"satlatitude"`
	Longitude      float64 `json:"satlongitude"`
	Altitude       float64 `json:"sataltitude"` // km
	Azimuth        float64 `json:"azimuth"`
	Elevation      float64 `json:"elevation"`
	RightAscension float64 `json:"ra"`
	Declination    float64 `json:"dec"`
	Timestamp      int64   `json:"timestamp"` // Unix seconds
}

// Time returns the observation time in UTC
func (s TelemetrySample) Time() time.Time {
	return time.Unix(s.Timestamp, 0).UTC()
}

// SourceInfo identifies the tracked object in a source response
type SourceInfo struct {
	SatName string `json:"satname"`
	SatID   int64  `json:"satid"`
}

// SourceResponse is the decoded body of an external tracking source call
type SourceResponse struct {
	Info      SourceInfo        `json:"info"`
	Positions []TelemetrySample `json:"positions"`
	Error     string            `json:"error,omitempty"`
}

// TrajectoryPoint is the durable per-spacecraft, per-timestamp record.
// Position is in meters, velocity in m/s and acceleration in m/s².
type TrajectoryPoint struct {
	ExternalID     int64     `json:"external_id"`
	Timestamp      time.Time `json:"timestamp"`
	Position       Vector3   `json:"position"`
	Velocity       Vector3   `json:"velocity"`
	Speed          float64   `json:"speed"`
	Acceleration   float64   `json:"acceleration"`
	OrbitRadius    float64   `json:"orbit_radius"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Altitude       float64   `json:"altitude"` // km
	Azimuth        float64   `json:"azimuth"`
	Elevation      float64   `json:"elevation"`
	RightAscension float64   `json:"right_ascension"`
	Declination    float64   `json:"declination"`
}

// Geo returns the geodetic part of the point
func (p *TrajectoryPoint) Geo() GeoPoint {
	return GeoPoint{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Altitude:  p.Altitude,
		Timestamp: p.Timestamp,
	}
}

// GeoPoint is a timestamped geodetic position used as prediction history
type GeoPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"` // km
	Timestamp time.Time `json:"timestamp"`
}

// SatelliteReference binds an external spacecraft id to its owning operator
type SatelliteReference struct {
	ID             uuid.UUID `json:"id"`
	ExternalID     int64     `json:"externalId"`
	EnterpriseID   uuid.UUID `json:"enterpriseId"`
	SpacecraftName string    `json:"spacecraftName"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// OrbitalElements are the classical Keplerian elements recovered from a state vector.
// Angles are in radians and the semi-major axis in km.
type OrbitalElements struct {
	SemiMajorAxis       float64
	Eccentricity        float64
	Inclination         float64
	RAAN                float64
	ArgumentOfPeriapsis float64
	MeanAnomaly         float64
}

// Adjustment is an optional trajectory perturbation taken from an executed command.
// The zero value is "no adjustment".
type Adjustment struct {
	SpeedMultiplier float64
	Acceleration    float64
	OrbitRadius     float64
	Valid           bool
}

// NoAdjustment returns the absent adjustment
func NoAdjustment() Adjustment {
	return Adjustment{}
}

// NewAdjustment returns a present adjustment
func NewAdjustment(speed, accel, orbitRadius float64) Adjustment {
	return Adjustment{SpeedMultiplier: speed, Acceleration: accel, OrbitRadius: orbitRadius, Valid: true}
}

// IsIdentity reports whether applying the adjustment changes nothing
func (a Adjustment) IsIdentity() bool {
	return !a.Valid || (a.SpeedMultiplier == 1.0 && a.Acceleration == 0 && a.OrbitRadius == 0)
}

func (a Adjustment) String() string {
	if !a.Valid {
		return "Adjustment{none}"
	}
	return fmt.Sprintf("Adjustment{speed=%.3f, accel=%.3f, orbit=%.3f}", a.SpeedMultiplier, a.Acceleration, a.OrbitRadius)
}

// PredictionPoint is one predicted geodetic position
type PredictionPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
	FullOrbit bool      `json:"isFullOrbit"`
	Clamped   bool      `json:"clamped,omitempty"`
}

// GeoTelemetry is the geodetic block of a published telemetry record
type GeoTelemetry struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// VelocityTelemetry is the velocity block of a published telemetry record
type VelocityTelemetry struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Magnitude float64 `json:"magnitude"`
}

// LatestTelemetry is the published form of a TrajectoryPoint
type LatestTelemetry struct {
	Timestamp    time.Time         `json:"timestamp"`
	Position     Vector3           `json:"position"`
	Velocity     VelocityTelemetry `json:"velocity"`
	Acceleration float64           `json:"acceleration"`
	OrbitRadius  float64           `json:"orbitRadius"`
	Geo          GeoTelemetry      `json:"geo"`
}

// NewLatestTelemetry converts a stored point into its published form
func NewLatestTelemetry(p *TrajectoryPoint) LatestTelemetry {
	return LatestTelemetry{
		Timestamp: p.Timestamp,
		Position:  p.Position,
		Velocity: VelocityTelemetry{
			X:         p.Velocity.X,
			Y:         p.Velocity.Y,
			Z:         p.Velocity.Z,
			Magnitude: p.Speed,
		},
		Acceleration: p.Acceleration,
		OrbitRadius:  p.OrbitRadius,
		Geo: GeoTelemetry{
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Altitude:  p.Altitude,
		},
	}
}

// SpacecraftTelemetry is the per-spacecraft entry of a TelemetryBundle
type SpacecraftTelemetry struct {
	Telemetry            LatestTelemetry   `json:"telemetry"`
	ShortPredictions     []PredictionPoint `json:"shortPredictions"`
	FullOrbitPredictions []PredictionPoint `json:"fullOrbitPredictions"`
}

// TelemetryBundle is the per-operator message published on every distribution tick
type TelemetryBundle struct {
	OperatorID uuid.UUID                      `json:"operatorId"`
	Telemetry  map[string]SpacecraftTelemetry `json:"telemetry"`
}

// CommandType enumerates spacecraft command kinds
type CommandType string

const (
	CommandLaunch           CommandType = "LAUNCH"
	CommandAdjustTrajectory CommandType = "ADJUST_TRAJECTORY"
	CommandShutdown         CommandType = "SHUTDOWN"
	CommandEmergencyStop    CommandType = "EMERGENCY_STOP"
)

// Command is an operator-issued command as returned by the command store
type Command struct {
	ID          uuid.UUID   `json:"id"`
	CommandType CommandType `json:"commandType"`
	Payload     string      `json:"payload"`
	Status      *bool       `json:"status"`
	CreatedAt   *time.Time  `json:"createdAt"`
	ExecutedAt  *time.Time  `json:"executedAt"`
}

// SpacecraftSummary is one entry of the spacecraft service summary listing
type SpacecraftSummary struct {
	ID           uuid.UUID `json:"id"`
	ExternalID   int64     `json:"externalId"`
	EnterpriseID uuid.UUID `json:"enterpriseId"`
	Name         string    `json:"spacecraftName"`
}

// SpacecraftState is the latest known state of one spacecraft in a telemetry summary
type SpacecraftState struct {
	ExternalID     int64      `json:"externalId"`
	SpacecraftName string     `json:"spacecraftName"`
	LastSeen       *time.Time `json:"lastSeen,omitempty"`
	Speed          float64    `json:"speed"`
	OrbitRadius    float64    `json:"orbitRadius"`
	Altitude       float64    `json:"altitude"`
	DataPoints24h  int64      `json:"dataPoints24h"`
}

// TelemetrySummary aggregates the state of an enterprise's fleet
type TelemetrySummary struct {
	EnterpriseID       uuid.UUID         `json:"enterpriseId"`
	ActiveSpacecraft   int               `json:"activeSpacecraft"`
	AverageOrbitRadius float64           `json:"averageOrbitRadius"`
	DataPoints24h      int64             `json:"dataPoints24h"`
	Spacecraft         []SpacecraftState `json:"spacecraft"`
}
