package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/wattsync/wattsync/pkg/coordinator"
	"github.com/wattsync/wattsync/pkg/entity"
	"github.com/wattsync/wattsync/pkg/statstore"
	"github.com/wattsync/wattsync/pkg/types"
)

// byPDL resolves the coordinators a request targets: one when pdl is set,
// all otherwise.
func (s *Server) byPDL(w http.ResponseWriter, pdl string) []*coordinator.Coordinator {
	if pdl == "" {
		return s.set.All()
	}
	c, ok := s.set.ByPDL(pdl)
	if !ok {
		writeJSONError(w, "unknown pdl", http.StatusNotFound)
		return nil
	}
	return []*coordinator.Coordinator{c}
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		PDL string `json:"pdl"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	coordinators := s.byPDL(w, req.PDL)
	if coordinators == nil {
		return
	}

	refreshed := make([]string, 0, len(coordinators))
	for _, c := range coordinators {
		if err := c.Refresh(ctx); err != nil {
			slog.ErrorContext(ctx, "refresh failed", slog.String("pdl", c.PDL()), slog.Any("error", err))
			writeJSONError(w, "refresh failed for "+c.PDL(), http.StatusInternalServerError)
			return
		}
		refreshed = append(refreshed, c.PDL())
	}

	writeJSON(w, struct {
		Refreshed []string `json:"refreshed"`
	}{Refreshed: refreshed})
}

// dateOnly accepts both date-only and RFC3339 timestamps in requests.
type dateOnly struct {
	time.Time
}

func (d *dateOnly) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (s *Server) handleHistoryFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		PDL          string        `json:"pdl"`
		Service      types.Service `json:"service"`
		Start        dateOnly      `json:"start"`
		End          dateOnly      `json:"end"`
		Price        float64       `json:"price"`
		OffpeakPrice float64       `json:"offpeakPrice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PDL == "" {
		writeJSONError(w, "pdl is required", http.StatusBadRequest)
		return
	}

	c, ok := s.set.ByPDL(req.PDL)
	if !ok {
		writeJSONError(w, "unknown pdl", http.StatusNotFound)
		return
	}

	err := c.FetchHistory(ctx, coordinator.HistoryParams{
		Service:      req.Service,
		Start:        req.Start.Time,
		End:          req.End.Time,
		Price:        req.Price,
		OffpeakPrice: req.OffpeakPrice,
	})
	if err != nil {
		slog.ErrorContext(ctx, "history fetch failed", slog.String("pdl", req.PDL), slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		PDL string `json:"pdl"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	coordinators := s.byPDL(w, req.PDL)
	if coordinators == nil {
		return
	}

	for _, c := range coordinators {
		if err := c.Normalize(ctx); err != nil {
			slog.ErrorContext(ctx, "normalize failed", slog.String("pdl", c.PDL()), slog.Any("error", err))
			writeJSONError(w, "normalize failed for "+c.PDL(), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		PDL          string   `json:"pdl"`
		StatisticIDs []string `json:"statisticIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PDL == "" || len(req.StatisticIDs) == 0 {
		writeJSONError(w, "pdl and statisticIds are required", http.StatusBadRequest)
		return
	}

	c, ok := s.set.ByPDL(req.PDL)
	if !ok {
		writeJSONError(w, "unknown pdl", http.StatusNotFound)
		return
	}

	if err := c.ClearSeries(ctx, req.StatisticIDs); err != nil {
		if errors.Is(err, statstore.ErrOutsideNamespace) {
			writeJSONError(w, err.Error(), http.StatusForbidden)
			return
		}
		slog.ErrorContext(ctx, "clear failed", slog.String("pdl", req.PDL), slog.Any("error", err))
		writeJSONError(w, "clear failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	pdl := r.URL.Query().Get("pdl")

	type entityState struct {
		ID string `json:"id"`
		entity.Value
	}
	entities := make([]entityState, 0)
	for _, c := range s.set.All() {
		if pdl != "" && c.PDL() != pdl {
			continue
		}
		for _, e := range s.entities[c.PDL()] {
			entities = append(entities, entityState{ID: e.ID(), Value: e.ReadState()})
		}
	}

	writeJSON(w, struct {
		Entities []entityState `json:"entities"`
	}{Entities: entities})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	coordinators := s.set.All()
	snapshots := make([]types.MeterSnapshot, 0, len(coordinators))
	for _, c := range coordinators {
		snapshots = append(snapshots, c.Snapshot())
	}
	writeJSON(w, struct {
		Meters []types.MeterSnapshot `json:"meters"`
	}{Meters: snapshots})
}
