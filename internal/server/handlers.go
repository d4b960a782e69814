package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/model"
	"github.com/signalsfoundry/terrainview/scene/memscene"
)

// maxBody bounds request bodies; polygons from a gazetteer stay far below.
const maxBody = 4 << 20

type selectionStatus struct {
	Selection *model.SelectionItem `json:"selection"`
	Marker    string               `json:"marker,omitempty"`
	Highlight string               `json:"highlight,omitempty"`
	Volume    string               `json:"volume,omitempty"`
	Mask      string               `json:"mask,omitempty"`
	InFlight  bool                 `json:"inFlight"`
}

type scenarioRequest struct {
	Simulation string `json:"simulation"`
	Alternate  bool   `json:"alternate"`
}

type scenarioStatus struct {
	Scenario     string `json:"scenario"`
	State        string `json:"state"`
	CachedScenes int    `json:"cachedScenes"`
}

func (s *Server) scenarioStatus() scenarioStatus {
	return scenarioStatus{
		Scenario:     s.deps.Terrain.Scenario(),
		State:        s.deps.Terrain.State().String(),
		CachedScenes: s.deps.Terrain.CachedScenes(),
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) selectionStatus() selectionStatus {
	st := selectionStatus{Selection: s.deps.Store.Current()}
	if s.deps.Orchestrator == nil {
		return st
	}
	entity, area := s.deps.Orchestrator.Current()
	if entity != nil {
		st.Marker, st.Highlight = entity.Marker, entity.Highlight
	}
	if area != nil {
		st.Volume, st.Mask = area.Volume, area.Mask
	}
	st.InFlight = s.deps.Orchestrator.InFlight()
	return st
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.selectionStatus())
}

// handlePutSelection publishes the item to the selection store. With
// ?stamp=now the item is stamped with the server clock, which makes it a
// fresh, interactive selection.
func (s *Server) handlePutSelection(w http.ResponseWriter, r *http.Request) {
	item, err := decodeSelection(r)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if r.URL.Query().Get("stamp") == "now" {
		item.SelectionTimestamp = model.Int64Ptr(s.deps.Clock.Now().UnixMilli())
	}
	logging.FromContext(r.Context(), s.log).Debug(r.Context(), "selection published",
		logging.Float64("sort_key", item.SortKey), logging.Bool("area", item.IsAreaSelection))
	s.deps.Store.Set(item)
	writeJSON(w, http.StatusOK, s.selectionStatus())
}

func (s *Server) handleDeleteSelection(w http.ResponseWriter, r *http.Request) {
	s.deps.Store.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	if s.deps.Terrain == nil {
		s.fail(w, r, http.StatusNotImplemented, errors.New("terrain management disabled"))
		return
	}
	writeJSON(w, http.StatusOK, s.scenarioStatus())
}

func (s *Server) handlePutScenario(w http.ResponseWriter, r *http.Request) {
	if s.deps.Terrain == nil {
		s.fail(w, r, http.StatusNotImplemented, errors.New("terrain management disabled"))
		return
	}
	var req scenarioRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("decode scenario: %w", err))
		return
	}
	tables := s.Tables()
	s.deps.Terrain.UseTerrainForScenario(r.Context(), req.Simulation, req.Alternate, tables.Keys, tables.URLs)
	writeJSON(w, http.StatusAccepted, s.scenarioStatus())
}

func (s *Server) handleRetryScenario(w http.ResponseWriter, r *http.Request) {
	if s.deps.Terrain == nil {
		s.fail(w, r, http.StatusNotImplemented, errors.New("terrain management disabled"))
		return
	}
	s.deps.Terrain.Retry(r.Context())
	writeJSON(w, http.StatusAccepted, s.scenarioStatus())
}

func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.deps.Scenes.Get().(interface{ Snapshot() memscene.Snapshot })
	if !ok {
		s.fail(w, r, http.StatusNotImplemented, errors.New("scene cannot be inspected"))
		return
	}
	writeJSON(w, http.StatusOK, snap.Snapshot())
}

func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	item, err := decodeSelection(r)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	derived, ok := s.deps.Deriver.DeriveGeometry(*item)
	if !ok {
		s.fail(w, r, http.StatusUnprocessableEntity, errors.New("selection position cannot be derived"))
		return
	}
	writeJSON(w, http.StatusOK, derived)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, ready := s.deps.Scenes.Ready()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sceneReady": ready})
}

func decodeSelection(r *http.Request) (*model.SelectionItem, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read selection: %w", err)
	}
	item, err := model.DecodeSelectionItem(data)
	if err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}
	return item, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail writes an error body and logs it on the request's logger.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	log := logging.FromContext(r.Context(), s.log)
	if status >= http.StatusInternalServerError {
		log.Warn(r.Context(), "request failed", logging.Int("status", status), logging.Err(err))
	} else {
		log.Debug(r.Context(), "request rejected", logging.Int("status", status), logging.Err(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
