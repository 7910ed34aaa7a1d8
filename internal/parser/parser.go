package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/saviobatista/orbit-tracker/internal/types"
)

// MinPositions is the number of samples needed to compute one derivative
const MinPositions = 2

var (
	// ErrSourceReported is returned when the source embeds an error field in its response
	ErrSourceReported = errors.New("telemetry source reported an error")
	// ErrInsufficientPositions is returned when fewer than MinPositions samples are present
	ErrInsufficientPositions = errors.New("insufficient positions in telemetry response")
)

// ParseResponse decodes a tracking source response body and validates it.
// Positions are returned ordered by ascending timestamp.
func ParseResponse(body []byte) (*types.SourceResponse, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	// Any error key fails the whole response, whatever its value and whatever data sits next to it
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("invalid response format: %w", err)
	}
	if raw, ok := fields["error"]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceReported, string(raw))
	}

	var resp types.SourceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid response format: %w", err)
	}

	if len(resp.Positions) < MinPositions {
		return nil, fmt.Errorf("%w: got %d, need %d", ErrInsufficientPositions, len(resp.Positions), MinPositions)
	}

	sort.SliceStable(resp.Positions, func(i, j int) bool {
		return resp.Positions[i].Timestamp < resp.Positions[j].Timestamp
	})

	return &resp, nil
}
