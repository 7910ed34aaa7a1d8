package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/saviobatista/orbit-tracker/internal/db"
	"github.com/saviobatista/orbit-tracker/internal/types"
)

type referenceRequest struct {
	ExternalID     int64     `json:"externalId"`
	EnterpriseID   uuid.UUID `json:"enterpriseId"`
	SpacecraftName string    `json:"spacecraftName"`
	DisplayName    string    `json:"displayName"`
}

type referenceResponse struct {
	*types.SatelliteReference
	Latest *types.LatestTelemetry `json:"latest,omitempty"`
}

func (s *Server) addReference(w http.ResponseWriter, r *http.Request) {
	var req referenceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "malformed body")
		return
	}
	if req.ExternalID <= 0 {
		writeError(w, http.StatusBadRequest, "BadRequest", "externalId is required")
		return
	}
	if req.EnterpriseID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "enterpriseId is required")
		return
	}
	name := req.SpacecraftName
	if name == "" {
		name = req.DisplayName
	}

	created, err := s.store.RegisterReference(r.Context(), &types.SatelliteReference{
		ExternalID:     req.ExternalID,
		EnterpriseID:   req.EnterpriseID,
		SpacecraftName: name,
	})
	if err != nil {
		s.logger.Error("failed to register reference", "external_id", req.ExternalID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal", "registration failed")
		return
	}
	if !created {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.logger.Info("registered spacecraft", "external_id", req.ExternalID, "enterprise_id", req.EnterpriseID)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getReference(w http.ResponseWriter, r *http.Request) {
	externalID, err := strconv.ParseInt(r.PathValue("externalId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "externalId must be an integer")
		return
	}

	ref, err := s.store.GetReference(r.Context(), externalID)
	if errors.Is(err, db.ErrUnknownSpacecraft) {
		writeError(w, http.StatusNotFound, "UnknownSpacecraft", "unknown spacecraft "+strconv.FormatInt(externalID, 10))
		return
	}
	if err != nil {
		s.logger.Error("failed to get reference", "external_id", externalID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal", "lookup failed")
		return
	}

	resp := referenceResponse{SatelliteReference: ref}
	if p := s.latestPoint(r.Context(), externalID); p != nil {
		t := types.NewLatestTelemetry(p)
		resp.Latest = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

// latestPoint prefers the cache and falls back to the store
func (s *Server) latestPoint(ctx context.Context, externalID int64) *types.TrajectoryPoint {
	if s.opts.Cache != nil {
		p, err := s.opts.Cache.GetLatestPoint(ctx, externalID)
		if err != nil {
			s.logger.Warn("latest point cache read failed", "external_id", externalID, "error", err)
		} else if p != nil {
			return p
		}
	}
	latest, err := s.store.LatestTrajectoryPoints(ctx, []int64{externalID})
	if err != nil {
		s.logger.Warn("failed to load latest point", "external_id", externalID, "error", err)
		return nil
	}
	return latest[externalID]
}

func (s *Server) triggerSync(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "sync is not configured")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := s.opts.Syncer.Sync(ctx)
		if err != nil {
			s.logger.Warn("triggered sync failed", "error", err)
			return
		}
		s.logger.Info("triggered sync complete", "registered", n)
	}()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) enterprise(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get("enterpriseId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "enterpriseId must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) references(w http.ResponseWriter, r *http.Request) (uuid.UUID, []*types.SatelliteReference, bool) {
	enterpriseID, ok := s.enterprise(w, r)
	if !ok {
		return uuid.Nil, nil, false
	}
	refs, err := s.store.ListReferencesByEnterprise(r.Context(), enterpriseID)
	if err != nil {
		s.logger.Error("failed to list references", "enterprise_id", enterpriseID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal", "lookup failed")
		return uuid.Nil, nil, false
	}
	return enterpriseID, refs, true
}

func (s *Server) listReferences(w http.ResponseWriter, r *http.Request) {
	_, refs, ok := s.references(w, r)
	if !ok {
		return
	}
	if refs == nil {
		refs = []*types.SatelliteReference{}
	}
	writeJSON(w, http.StatusOK, refs)
}

func (s *Server) activeCount(w http.ResponseWriter, r *http.Request) {
	_, refs, ok := s.references(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, len(refs))
}

func (s *Server) latestFor(ctx context.Context, refs []*types.SatelliteReference) (map[int64]*types.TrajectoryPoint, error) {
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ExternalID)
	}
	return s.store.LatestTrajectoryPoints(ctx, ids)
}

func meanOrbitRadius(latest map[int64]*types.TrajectoryPoint) float64 {
	if len(latest) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range latest {
		sum += p.OrbitRadius
	}
	return sum / float64(len(latest))
}

func (s *Server) averageOrbit(w http.ResponseWriter, r *http.Request) {
	enterpriseID, refs, ok := s.references(w, r)
	if !ok {
		return
	}
	latest, err := s.latestFor(r.Context(), refs)
	if err != nil {
		s.logger.Error("failed to load latest points", "enterprise_id", enterpriseID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal", "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, meanOrbitRadius(latest))
}

type summaryResponse struct {
	types.TelemetrySummary
	System  map[string]interface{} `json:"system,omitempty"`
	History []*db.SystemStats      `json:"history,omitempty"`
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	enterpriseID, refs, ok := s.references(w, r)
	if !ok {
		return
	}
	latest, err := s.latestFor(r.Context(), refs)
	if err != nil {
		s.logger.Error("failed to load latest points", "enterprise_id", enterpriseID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal", "lookup failed")
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	out := summaryResponse{
		TelemetrySummary: types.TelemetrySummary{
			EnterpriseID:       enterpriseID,
			ActiveSpacecraft:   len(refs),
			AverageOrbitRadius: meanOrbitRadius(latest),
			Spacecraft:         make([]types.SpacecraftState, 0, len(refs)),
		},
	}
	for _, ref := range refs {
		state := types.SpacecraftState{
			ExternalID:     ref.ExternalID,
			SpacecraftName: ref.SpacecraftName,
		}
		if p, ok := latest[ref.ExternalID]; ok {
			ts := p.Timestamp
			state.LastSeen = &ts
			state.Speed = p.Speed
			state.OrbitRadius = p.OrbitRadius
			state.Altitude = p.Altitude
		}
		n, err := s.store.CountSince(r.Context(), ref.ExternalID, since)
		if err != nil {
			s.logger.Warn("failed to count data points", "external_id", ref.ExternalID, "error", err)
		}
		state.DataPoints24h = n
		out.DataPoints24h += n
		out.Spacecraft = append(out.Spacecraft, state)
	}
	if s.opts.Stats != nil {
		out.System = s.opts.Stats.GetStats()
	}
	if s.opts.History != nil {
		history, err := s.opts.History.GetSystemStats(r.Context(), since, time.Now())
		if err != nil {
			s.logger.Warn("failed to load stats history", "error", err)
		}
		out.History = history
	}
	writeJSON(w, http.StatusOK, out)
}
