package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/simpleelforbrug/elforbrug/pkg/integration"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
	"github.com/simpleelforbrug/elforbrug/pkg/storage"
	"github.com/simpleelforbrug/elforbrug/pkg/types"
)

// maxBodyBytes limits request bodies to 1MB.
const maxBodyBytes = 1 << 20

// decodeBody decodes a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	log.Ctx(r.Context()).WarnContext(r.Context(), "failed to decode request body", slog.Any("error", err))
	writeJSONError(w, "invalid request", http.StatusBadRequest)
	return false
}

func (s *Server) handleGetConfigFlow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.flow.Step(r.Context(), nil))
}

func (s *Server) handleConfigFlow(w http.ResponseWriter, r *http.Request) {
	var input integration.FlowInput
	if !decodeBody(w, r, &input, false) {
		return
	}
	writeJSON(w, s.flow.Step(r.Context(), &input))
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries := s.manager.Entries()
	if entries == nil {
		entries = []types.Entry{}
	}
	writeJSON(w, struct {
		Entries []types.Entry `json:"entries"`
	}{entries})
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := s.manager.RemoveEntry(ctx, r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrEntryNotFound):
		writeJSONError(w, "entry not found", http.StatusNotFound)
	case err != nil:
		log.Ctx(ctx).ErrorContext(ctx, "failed to remove entry", slog.Any("error", err))
		writeJSONError(w, "failed to remove entry", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	sensors := s.manager.Sensors()
	if sensors == nil {
		sensors = []types.SensorSnapshot{}
	}
	writeJSON(w, struct {
		Sensors []types.SensorSnapshot `json:"sensors"`
	}{sensors})
}

func (s *Server) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.manager.Sensor(r.PathValue("uniqueID"))
	if !ok {
		writeJSONError(w, "sensor not found", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleUpdateEnergy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		EntryID string `json:"entryID"`
	}
	if !decodeBody(w, r, &req, true) {
		return
	}

	err := s.manager.UpdateEnergy(ctx, req.EntryID)
	switch {
	case errors.Is(err, integration.ErrEntryNotLoaded):
		writeJSONError(w, "entry not found", http.StatusNotFound)
	case err != nil:
		log.Ctx(ctx).ErrorContext(ctx, "failed to update energy", slog.Any("error", err))
		writeJSONError(w, "failed to update energy", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleSetUnit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		EntryID string `json:"entryID"`
		Unit    string `json:"unit"`
	}
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.EntryID == "" {
		writeJSONError(w, "entryID required", http.StatusBadRequest)
		return
	}
	if _, err := types.ParseUnit(req.Unit); err != nil || req.Unit == "" {
		writeJSONError(w, "unit must be kWh or MWh", http.StatusBadRequest)
		return
	}

	err := s.manager.SetUnit(ctx, req.EntryID, req.Unit)
	switch {
	case errors.Is(err, integration.ErrEntryNotLoaded):
		writeJSONError(w, "entry not found", http.StatusNotFound)
	case err != nil:
		log.Ctx(ctx).ErrorContext(ctx, "failed to set unit", slog.Any("error", err))
		writeJSONError(w, "failed to set unit", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusOK)
	}
}
