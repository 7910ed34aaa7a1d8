package command

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

// Payload is the decoded form of an ADJUST_TRAJECTORY command payload
type Payload struct {
	Adjustment types.Adjustment
	// Inclination is accepted from operators but not applied to predictions
	Inclination *float64
}

// ParsePayload decodes a trajectory adjustment payload.
//
// Preferred keys are speed, acceleration and orbitRadius. The legacy altitude key maps to
// the orbit radius shift when speed was left at 1.0, and targetOrbit maps to it when no
// shift was given otherwise. Blank or empty-object payloads decode to no adjustment.
func ParsePayload(payload string) (Payload, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return Payload{Adjustment: types.NoAdjustment()}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return Payload{Adjustment: types.NoAdjustment()}, fmt.Errorf("failed to parse command payload: %w", err)
	}

	speed, accel, orbitRadius := 1.0, 0.0, 0.0
	recognised := false

	read := func(key string, dst *float64) error {
		raw, ok := fields[key]
		if !ok {
			return nil
		}
		v, err := number(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = v
		recognised = true
		return nil
	}

	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"speed", &speed},
		{"acceleration", &accel},
		{"orbitRadius", &orbitRadius},
	} {
		if err := read(f.key, f.dst); err != nil {
			return Payload{Adjustment: types.NoAdjustment()}, err
		}
	}

	if speed == 1.0 {
		if err := read("altitude", &orbitRadius); err != nil {
			return Payload{Adjustment: types.NoAdjustment()}, err
		}
	}
	if orbitRadius == 0 {
		if err := read("targetOrbit", &orbitRadius); err != nil {
			return Payload{Adjustment: types.NoAdjustment()}, err
		}
	}

	var out Payload
	if raw, ok := fields["inclination"]; ok {
		if v, err := number(raw); err == nil {
			out.Inclination = &v
		}
	}

	if !recognised {
		out.Adjustment = types.NoAdjustment()
		return out, nil
	}
	out.Adjustment = types.NewAdjustment(speed, accel, orbitRadius)
	return out, nil
}

// number accepts JSON numbers and numeric strings
func number(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(raw))
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// SelectLatestTrajectoryCommand returns the most recently executed, successful
// ADJUST_TRAJECTORY command, or nil when there is none
func SelectLatestTrajectoryCommand(cmds []types.Command) *types.Command {
	candidates := make([]types.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.CommandType != types.CommandAdjustTrajectory {
			continue
		}
		if c.Status == nil || !*c.Status || c.ExecutedAt == nil {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ExecutedAt.After(*candidates[j].ExecutedAt)
	})
	latest := candidates[0]
	return &latest
}
