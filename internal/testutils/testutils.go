package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/saviobatista/orbit-tracker/internal/types"
)

// MockSourceResponse creates a tracking source body with two samples one second apart
func MockSourceResponse(externalID int64, lat, lon, alt float64, ts int64) []byte {
	resp := types.SourceResponse{
		Info: types.SourceInfo{SatName: "SPACE STATION", SatID: externalID},
		Positions: []types.TelemetrySample{
			{Latitude: lat, Longitude: lon, Altitude: alt, Azimuth: 90, Elevation: -10, RightAscension: 180, Declination: 5, Timestamp: ts},
			{Latitude: lat + 0.05, Longitude: lon + 0.05, Altitude: alt + 0.01, Azimuth: 91, Elevation: -9, RightAscension: 181, Declination: 6, Timestamp: ts + 1},
		},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal mock response: %v", err))
	}
	return data
}

// MockReference creates a satellite reference owned by the given operator
func MockReference(externalID int64, operatorID uuid.UUID) *types.SatelliteReference {
	return &types.SatelliteReference{
		ID:             uuid.New(),
		ExternalID:     externalID,
		EnterpriseID:   operatorID,
		SpacecraftName: fmt.Sprintf("SAT-%d", externalID),
		CreatedAt:      time.Now().UTC(),
	}
}

// MockHistory creates n ascending trajectory points moving along a low Earth orbit ground track
func MockHistory(externalID int64, start time.Time, n int, step time.Duration) []*types.TrajectoryPoint {
	points := make([]*types.TrajectoryPoint, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, &types.TrajectoryPoint{
			ExternalID:  externalID,
			Timestamp:   start.Add(time.Duration(i) * step),
			Latitude:    10.0 + 0.06*float64(i)*step.Seconds(),
			Longitude:   20.0 + 0.03*float64(i)*step.Seconds(),
			Altitude:    420.0,
			Speed:       7660,
			OrbitRadius: 6798137,
		})
	}
	return points
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
		}
	}
}

// IsIntegrationTest reports whether container-backed tests were requested
func IsIntegrationTest() bool {
	return os.Getenv("INTEGRATION") != ""
}
