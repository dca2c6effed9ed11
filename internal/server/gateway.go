package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/query"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/status"
)

const maxIngestBody = 1 << 20

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// gatewayMux registers the HTTP/JSON routes. Reads go to the projection
// tables, previews to the live store, writes through the ingest service.
func (s *GRPCServer) gatewayMux() (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	routes := []route{
		{"GET", "/v1/pools/{pool_id}", s.getPool},
		{"GET", "/v1/pools/{pool_id}/preview", s.previewPool},
		{"GET", "/v1/pools/{pool_id}/compensations", s.listCompensations},
		{"GET", "/v1/positions/{position_id}", s.getPosition},
		{"GET", "/v1/positions/{position_id}/preview", s.previewPosition},
		{"GET", "/v1/covers/{cover_id}", s.getCover},
		{"GET", "/v1/covers/{cover_id}/preview", s.previewCover},
		{"GET", "/v1/claims/{claim_id}", s.getClaim},
		{"GET", "/v1/accounts/{owner}/balances", s.getBalances},
		{"GET", "/v1/accounts/{owner}/positions", s.listPositions},
		{"GET", "/v1/accounts/{owner}/journal", s.listJournal},
		{"POST", "/v1/ingest", s.ingest},
		{"GET", "/v1/admin/event-log", s.eventLogInfo},
		{"GET", "/v1/admin/integrity", s.verifyIntegrity},
		{"POST", "/v1/admin/snapshots", s.takeSnapshot},
		{"POST", "/v1/admin/projections/rebuild", s.rebuildProjections},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, fmt.Errorf("%s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

// --- projection reads ---

func (s *GRPCServer) getPool(w http.ResponseWriter, r *http.Request, p map[string]string) {
	id, err := strconv.ParseUint(p["pool_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid pool_id: %w", err))
		return
	}
	resp, err := s.deps.QueryService.GetPool(r.Context(), id)
	respond(w, resp, err)
}

func (s *GRPCServer) listCompensations(w http.ResponseWriter, r *http.Request, p map[string]string) {
	id, err := strconv.ParseUint(p["pool_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid pool_id: %w", err))
		return
	}
	limit, err := pageSize(r, 50, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.deps.QueryService.GetCompensations(r.Context(), id, limit)
	respond(w, resp, err)
}

func (s *GRPCServer) getPosition(w http.ResponseWriter, r *http.Request, p map[string]string) {
	id, ok := pathUUID(w, p, "position_id")
	if !ok {
		return
	}
	resp, err := s.deps.QueryService.GetPosition(r.Context(), id)
	respond(w, resp, err)
}

func (s *GRPCServer) getCover(w http.ResponseWriter, r *http.Request, p map[string]string) {
	id, ok := pathUUID(w, p, "cover_id")
	if !ok {
		return
	}
	resp, err := s.deps.QueryService.GetCover(r.Context(), id)
	respond(w, resp, err)
}

func (s *GRPCServer) getClaim(w http.ResponseWriter, r *http.Request, p map[string]string) {
	id, ok := pathUUID(w, p, "claim_id")
	if !ok {
		return
	}
	resp, err := s.deps.QueryService.GetClaim(r.Context(), id)
	respond(w, resp, err)
}

func (s *GRPCServer) getBalances(w http.ResponseWriter, r *http.Request, p map[string]string) {
	owner, ok := pathUUID(w, p, "owner")
	if !ok {
		return
	}
	resp, err := s.deps.QueryService.GetBalances(r.Context(), owner)
	respond(w, resp, err)
}

func (s *GRPCServer) listPositions(w http.ResponseWriter, r *http.Request, p map[string]string) {
	owner, ok := pathUUID(w, p, "owner")
	if !ok {
		return
	}
	resp, err := s.deps.QueryService.GetPositionsByOwner(r.Context(), owner)
	respond(w, resp, err)
}

func (s *GRPCServer) listJournal(w http.ResponseWriter, r *http.Request, p map[string]string) {
	owner, ok := pathUUID(w, p, "owner")
	if !ok {
		return
	}
	limit, err := pageSize(r, 100, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid before: %w", err))
			return
		}
		before = &seq
	}
	resp, err := s.deps.QueryService.GetJournalHistory(r.Context(), owner, limit, before)
	respond(w, resp, err)
}

// --- live previews ---

func (s *GRPCServer) previewPool(w http.ResponseWriter, r *http.Request, p map[string]string) {
	id, err := strconv.ParseUint(p["pool_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid pool_id: %w", err))
		return
	}
	now, ok := previewTime(w, r)
	if !ok {
		return
	}
	info, err := s.deps.Preview.PreviewPool(state.PoolID(id), now)
	respondPreview(w, info, err)
}

func (s *GRPCServer) previewPosition(w http.ResponseWriter, r *http.Request, p map[string]string) {
	id, ok := pathUUID(w, p, "position_id")
	if !ok {
		return
	}
	now, ok := previewTime(w, r)
	if !ok {
		return
	}
	info, err := s.deps.Preview.PreviewPosition(id, now)
	respondPreview(w, info, err)
}

func (s *GRPCServer) previewCover(w http.ResponseWriter, r *http.Request, p map[string]string) {
	id, ok := pathUUID(w, p, "cover_id")
	if !ok {
		return
	}
	now, ok := previewTime(w, r)
	if !ok {
		return
	}
	info, err := s.deps.Preview.PreviewCover(id, now)
	respondPreview(w, info, err)
}

// --- writes and admin ---

func (s *GRPCServer) ingest(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.EventType == "" || len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("event_type and payload are required"))
		return
	}
	resp, err := s.deps.IngestService.Ingest(r.Context(), req.EventType, req.Payload)
	respond(w, resp, err)
}

func (s *GRPCServer) eventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := (&adminServiceImpl{deps: s.deps}).GetEventLogInfo(r.Context(), &Empty{})
	respond(w, resp, err)
}

func (s *GRPCServer) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	respond(w, resp, err)
}

func (s *GRPCServer) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := (&adminServiceImpl{deps: s.deps}).TakeSnapshot(r.Context(), &Empty{})
	respond(w, resp, err)
}

func (s *GRPCServer) rebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := (&adminServiceImpl{deps: s.deps}).RebuildProjections(r.Context(), &Empty{})
	respond(w, resp, err)
}

// ============================================================================
// Helpers
// ============================================================================

func pathUUID(w http.ResponseWriter, p map[string]string, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(p[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s: %w", name, err))
		return uuid.Nil, false
	}
	return id, true
}

func pageSize(r *http.Request, def, max int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return min(n, max), nil
}

// previewTime reads ?now=<unix seconds>, defaulting to the wall clock.
func previewTime(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	v := r.URL.Query().Get("now")
	if v == "" {
		return uint64(time.Now().Unix()), true
	}
	now, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid now: %w", err))
		return 0, false
	}
	return now, true
}

// httpStatus maps domain errors, including gRPC status errors from the
// shared admin handlers, onto HTTP codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ingestion.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound
	}
	if st, ok := status.FromError(err); ok {
		return runtime.HTTPStatusFromCode(st.Code())
	}
	return http.StatusInternalServerError
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func respondPreview(w http.ResponseWriter, v any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case errors.Is(err, state.ErrPoolNotFound), errors.Is(err, state.ErrPositionNotFound), errors.Is(err, state.ErrCoverNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, state.ErrStaleTimestamp):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
