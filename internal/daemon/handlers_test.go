package daemon

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hncpd/hncpd/pkg/hncp"
)

// Handler tests exercise the HTTP handlers directly with httptest, below
// the auth middleware, against a real engine.

func newHandlerServer(t *testing.T) (*Server, *hncp.Engine, http.Handler) {
	t.Helper()
	rt := newMockRuntime(t)
	srv := NewServer(rt, "/unused.sock", "/unused.cookie", "test-0.1.0")
	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	return srv, rt.engine, mux
}

func decodeData(t *testing.T, body []byte, target any) {
	t.Helper()
	var raw struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("response is not a data envelope: %v\n%s", err, body)
	}
	if err := json.Unmarshal(raw.Data, target); err != nil {
		t.Fatalf("cannot decode data: %v", err)
	}
}

// nullTransport satisfies hncp.Transport without any real socket.
type nullTransport struct{}

func (nullTransport) Send(dst net.Addr, data []byte) error { return nil }
func (nullTransport) MulticastAddr() net.Addr              { return &net.UDPAddr{} }
func (nullTransport) LocalAddr() net.Addr                  { return &net.UDPAddr{} }
func (nullTransport) Close() error                         { return nil }

// waitOwnNode publishes one TLV and waits for the coalesced publish to
// land in the store, returning the own-node record.
func waitOwnNode(t *testing.T, eng *hncp.Engine) *hncp.NodeRecord {
	t.Helper()
	if _, err := eng.AddTLV(hncp.AgentTLVRangeStart, []byte("x")); err != nil {
		t.Fatalf("AddTLV: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec := eng.OwnNode(); rec != nil {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("own node record never appeared")
	return nil
}

func TestHandleStatusJSON(t *testing.T) {
	_, _, mux := newHandlerServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp StatusResponse
	decodeData(t, rec.Body.Bytes(), &resp)
	if resp.Version != "test-0.1.0" {
		t.Errorf("version = %q", resp.Version)
	}
	if resp.NetworkHash == "" {
		t.Error("network hash missing from status")
	}
}

func TestHandleStatusText(t *testing.T) {
	_, _, mux := newHandlerServer(t)

	req := httptest.NewRequest("GET", "/v1/status", nil)
	req.Header.Set("Accept", "text/plain")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "network_hash:") {
		t.Errorf("text body %q lacks network_hash line", rec.Body.String())
	}
}

func TestHandleNodeListAndGet(t *testing.T) {
	_, eng, mux := newHandlerServer(t)
	own := waitOwnNode(t, eng)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/nodes", nil))
	var nodes []NodeInfo
	decodeData(t, rec.Body.Bytes(), &nodes)
	if len(nodes) != 1 || nodes[0].NodeID != own.ID.String() {
		t.Fatalf("nodes = %+v, want just %s", nodes, own.ID)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/nodes/"+own.ID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d, want 200", rec.Code)
	}
	var info NodeInfo
	decodeData(t, rec.Body.Bytes(), &info)
	if info.ContentHash != own.ContentHash.String() {
		t.Errorf("content hash = %q, want %q", info.ContentHash, own.ContentHash)
	}
}

func TestHandleNodeGetRejectsBadID(t *testing.T) {
	_, _, mux := newHandlerServer(t)

	for _, id := range []string{"zz", "0102"} { // not hex / wrong length
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/nodes/"+id, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("id %q: status = %d, want 400", id, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/nodes/ffffffffffffffff", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", rec.Code)
	}
}

func TestHandleEndpointList(t *testing.T) {
	_, eng, mux := newHandlerServer(t)

	if _, err := eng.EnableEndpoint("lan", nullTransport{}, hncp.DefaultEndpointConfig()); err != nil {
		t.Fatalf("EnableEndpoint: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/endpoints", nil))
	var eps []EndpointInfo
	decodeData(t, rec.Body.Bytes(), &eps)
	if len(eps) != 1 || eps[0].Name != "lan" || eps[0].ID == 0 {
		t.Errorf("endpoints = %+v, want one named lan with a nonzero id", eps)
	}
}

func TestHandleTLVAddAndRemove(t *testing.T) {
	_, _, mux := newHandlerServer(t)

	body, _ := json.Marshal(TLVAddRequest{Type: 33, Value: []byte("payload")})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/tlv", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("add: status = %d body %s", rec.Code, rec.Body.String())
	}
	var resp TLVAddResponse
	decodeData(t, rec.Body.Bytes(), &resp)
	if resp.Handle == "" {
		t.Fatal("empty handle")
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("DELETE", "/v1/tlv/"+resp.Handle, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("remove: status = %d", rec.Code)
	}
}

func TestHandleTLVAddRejectsBadBody(t *testing.T) {
	_, _, mux := newHandlerServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/tlv", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: status = %d, want 400", rec.Code)
	}
}

func TestHandleTLVRemoveRejectsBadHandle(t *testing.T) {
	_, _, mux := newHandlerServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("DELETE", "/v1/tlv/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad handle: status = %d, want 400", rec.Code)
	}
}
