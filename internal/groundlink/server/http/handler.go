package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/gorilla/mux"

	"github.com/autopeer-io/groundlink/internal/groundlink/core"
	"github.com/autopeer-io/groundlink/internal/groundlink/paramstore"
	"github.com/autopeer-io/groundlink/internal/link/session"
)

const (
	archiveURLExpiry = 15 * time.Minute
	maxBodyBytes     = 1 << 16
)

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	LinkID string `json:"linkId"`
	Ready  bool   `json:"ready"`
	session.Snapshot
}

// ParametersResponse is the body of GET /v1/parameters.
type ParametersResponse struct {
	LinkID string             `json:"linkId"`
	Count  int                `json:"count"`
	Values map[string]float32 `json:"values"`
}

type DataStreamRequest struct {
	// Stream is a MAV_DATA_STREAM value; 0 selects all streams.
	Stream uint8  `json:"stream"`
	Rate   uint16 `json:"rate"`
}

type MissionItemsRequest struct {
	Total int `json:"total"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz answers 200 once the parameter sync finished.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Link.Snapshot()
	if !snap.Ready() {
		http.Error(w, string(snap.Phase), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Link.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{LinkID: s.deps.LinkID, Ready: snap.Ready(), Snapshot: snap})
}

func (s *Server) handleParameters(w http.ResponseWriter, _ *http.Request) {
	values := s.deps.Link.AllParameters()
	if values == nil {
		values = map[string]float32{}
	}
	writeJSON(w, http.StatusOK, ParametersResponse{LinkID: s.deps.LinkID, Count: len(values), Values: values})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotFound, errors.New("parameter store disabled"))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	list, err := s.deps.Store.List(r.Context(), s.deps.LinkID, limit)
	if err != nil {
		s.logger.Error(err, "Failed to list snapshots")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []paramstore.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotFound, errors.New("parameter store disabled"))
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := s.deps.Store.Get(r.Context(), id)
	if errors.Is(err, paramstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.logger.Error(err, "Failed to load snapshot", "id", id)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleArchiveURL(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil || s.deps.Index == nil {
		writeError(w, http.StatusNotFound, errors.New("parameter archive disabled"))
		return
	}
	key := s.deps.Index.LastKey()
	if key == "" {
		writeError(w, http.StatusNotFound, errors.New("nothing archived yet"))
		return
	}
	url, err := s.deps.Archive.URL(r.Context(), key, archiveURLExpiry)
	if err != nil {
		s.logger.Error(err, "Failed to sign archive url", "key", key)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "url": url})
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req core.CommandRequest
	if !decode(w, r, &req) {
		return
	}
	cmd, err := req.ToCommand()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Link.Submit(r.Context(), cmd); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.logger.Info("Command submitted", "command", cmd.ID, "kind", cmd.Kind)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAutopilotInfo(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, s.deps.Link.RequestAutopilotInfo(r.Context()))
}

func (s *Server) handleDataStream(w http.ResponseWriter, r *http.Request) {
	var req DataStreamRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Rate == 0 {
		writeError(w, http.StatusBadRequest, errors.New("rate must be positive"))
		return
	}
	s.accepted(w, s.deps.Link.RequestDataStream(r.Context(), common.MAV_DATA_STREAM(req.Stream), req.Rate))
}

func (s *Server) handleMissionList(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, s.deps.Link.RequestMissionList(r.Context()))
}

func (s *Server) handleMissionItems(w http.ResponseWriter, r *http.Request) {
	var req MissionItemsRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Total < 0 || req.Total > 0xffff {
		writeError(w, http.StatusBadRequest, errors.New("total out of range"))
		return
	}
	s.accepted(w, s.deps.Link.RequestMissionItems(r.Context(), req.Total))
}

func (s *Server) handleMissionAck(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, s.deps.Link.SendMissionAck(r.Context()))
}

func (s *Server) accepted(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
