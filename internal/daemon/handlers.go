package daemon

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hncpd/hncpd/pkg/hncp"
)

// maxRequestBodySize limits the size of JSON request bodies to prevent
// unbounded memory consumption from oversized or malicious payloads.
const maxRequestBodySize = 1 << 20 // 1 MB

// registerRoutes sets up all HTTP routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/nodes", s.handleNodeList)
	mux.HandleFunc("GET /v1/nodes/{id}", s.handleNodeGet)
	mux.HandleFunc("GET /v1/endpoints", s.handleEndpointList)
	mux.HandleFunc("POST /v1/tlv", s.handleTLVAdd)
	mux.HandleFunc("DELETE /v1/tlv/{id}", s.handleTLVRemove)
	mux.HandleFunc("POST /v1/shutdown", s.handleShutdown)
}

// --- Format helpers ---

func wantsText(r *http.Request) bool {
	if r.URL.Query().Get("format") == "text" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/plain")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(DataResponse{Data: data})
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func respondText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	fmt.Fprint(w, text)
}

// --- Handlers ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rt := s.runtime
	eng := rt.Engine()

	own := eng.OwnNode()
	nodeID := "unknown"
	if own != nil {
		nodeID = own.ID.String()
	}

	var reachable int
	for _, rec := range eng.IterNodes() {
		if rec.Reachable {
			reachable++
		}
	}

	var endpointNames []string
	for _, ep := range eng.IterEndpoints() {
		endpointNames = append(endpointNames, ep.Name)
	}

	resp := StatusResponse{
		NodeID:         nodeID,
		Version:        rt.Version(),
		UptimeSeconds:  int(time.Since(rt.StartTime()).Seconds()),
		ReachableNodes: reachable,
		NetworkHash:    eng.NetworkHash().String(),
		Endpoints:      endpointNames,
	}

	if wantsText(r) {
		var sb strings.Builder
		fmt.Fprintf(&sb, "node_id: %s\n", resp.NodeID)
		fmt.Fprintf(&sb, "version: %s\n", resp.Version)
		fmt.Fprintf(&sb, "uptime: %ds\n", resp.UptimeSeconds)
		fmt.Fprintf(&sb, "reachable_nodes: %d\n", resp.ReachableNodes)
		fmt.Fprintf(&sb, "network_hash: %s\n", resp.NetworkHash)
		fmt.Fprintf(&sb, "endpoints: %s\n", strings.Join(resp.Endpoints, ", "))
		respondText(w, http.StatusOK, sb.String())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNodeList(w http.ResponseWriter, r *http.Request) {
	eng := s.runtime.Engine()
	recs := eng.IterNodes()
	infos := make([]NodeInfo, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, nodeInfoFromRecord(rec))
	}
	respondJSON(w, http.StatusOK, infos)
}

func (s *Server) handleNodeGet(w http.ResponseWriter, r *http.Request) {
	idHex := r.PathValue("id")
	id, err := parseNodeIDHex(idHex)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := s.runtime.Engine().FindNode(id)
	if rec == nil {
		respondError(w, http.StatusNotFound, "node not found")
		return
	}
	respondJSON(w, http.StatusOK, nodeInfoFromRecord(rec))
}

func nodeInfoFromRecord(rec *hncp.NodeRecord) NodeInfo {
	return NodeInfo{
		NodeID:       rec.ID.String(),
		Reachable:    rec.Reachable,
		UpdateNumber: rec.UpdateNumber,
		TLVCount:     len(rec.TLVs),
		ContentHash:  rec.ContentHash.String(),
	}
}

func parseNodeIDHex(s string) (hncp.NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return hncp.NodeID{}, fmt.Errorf("invalid node id: %w", err)
	}
	if len(b) != hncp.NodeIDLen {
		return hncp.NodeID{}, fmt.Errorf("invalid node id: want %d bytes, got %d", hncp.NodeIDLen, len(b))
	}
	return hncp.NodeIDFromBytes(b), nil
}

func (s *Server) handleEndpointList(w http.ResponseWriter, r *http.Request) {
	eps := s.runtime.Engine().IterEndpoints()
	infos := make([]EndpointInfo, 0, len(eps))
	for _, ep := range eps {
		infos = append(infos, EndpointInfo{
			Name:         ep.Name,
			ID:           ep.ID,
			NeighbourCnt: len(ep.Neighbours()),
		})
	}
	respondJSON(w, http.StatusOK, infos)
}

func (s *Server) handleTLVAdd(w http.ResponseWriter, r *http.Request) {
	var req TLVAddRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h, err := s.runtime.Engine().AddTLV(req.Type, req.Value)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit.TLVChange("add", req.Type)
	respondJSON(w, http.StatusOK, TLVAddResponse{Handle: uuid.UUID(h).String()})
}

func (s *Server) handleTLVRemove(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid handle")
		return
	}
	s.runtime.Engine().RemoveTLV(hncp.Handle(id))
	s.audit.TLVChange("remove", 0)
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})

	go func() {
		time.Sleep(100 * time.Millisecond) // let response flush
		close(s.shutdownCh)
	}()
}
