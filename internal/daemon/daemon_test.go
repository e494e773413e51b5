package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hncpd/hncpd/pkg/hncp"
)

// --- Mock runtime ---

type mockRuntime struct {
	engine    *hncp.Engine
	version   string
	startTime time.Time
}

func (m *mockRuntime) Engine() *hncp.Engine { return m.engine }
func (m *mockRuntime) ConfigFile() string   { return "/mock/config.yaml" }
func (m *mockRuntime) Version() string      { return m.version }
func (m *mockRuntime) StartTime() time.Time { return m.startTime }

// newMockRuntime builds a runtime around a real engine with no endpoints,
// running on its own scheduler goroutine for the duration of the test.
func newMockRuntime(t *testing.T) *mockRuntime {
	t.Helper()
	id := hncp.NodeIDFromBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	eng := hncp.NewRealtimeEngine(hncp.Config{
		OwnID:        id,
		Flooding:     hncp.DefaultFloodingConfig(),
		Reachability: hncp.DefaultReachabilityConfig(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		eng.Close()
		cancel()
		<-done
	})
	return &mockRuntime{
		engine:    eng,
		version:   "test-0.1.0",
		startTime: time.Now().Add(-60 * time.Second),
	}
}

// --- Helper to create a test server ---

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")
	cookiePath := filepath.Join(dir, ".test-cookie")

	rt := newMockRuntime(t)
	srv := NewServer(rt, socketPath, cookiePath, "test-0.1.0")
	return srv, dir
}

// --- Tests ---

func TestServerStartStop(t *testing.T) {
	srv, dir := newTestServer(t)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	socketPath := filepath.Join(dir, "test.sock")
	cookiePath := filepath.Join(dir, ".test-cookie")

	if _, err := os.Stat(socketPath); err != nil {
		t.Errorf("socket not created: %v", err)
	}
	info, err := os.Stat(cookiePath)
	if err != nil {
		t.Fatalf("cookie not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("cookie mode = %04o, want 0600", info.Mode().Perm())
	}

	srv.Stop()

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket not removed after Stop")
	}
	if _, err := os.Stat(cookiePath); !os.IsNotExist(err) {
		t.Error("cookie not removed after Stop")
	}
}

func TestServerRemovesStaleSocket(t *testing.T) {
	srv, dir := newTestServer(t)
	socketPath := filepath.Join(dir, "test.sock")

	// A leftover socket file with nothing listening behind it.
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	l.Close() // closes and leaves no listener; file may linger
	os.WriteFile(socketPath, []byte{}, 0600)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start did not recover from stale socket: %v", err)
	}
	srv.Stop()
}

func TestServerRefusesSecondInstance(t *testing.T) {
	srv1, dir := newTestServer(t)
	if err := srv1.Start(); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer srv1.Stop()

	rt := newMockRuntime(t)
	srv2 := NewServer(rt, filepath.Join(dir, "test.sock"), filepath.Join(dir, ".cookie2"), "test")
	err := srv2.Start()
	if err == nil {
		srv2.Stop()
		t.Fatal("second server bound the same socket")
	}
	if !strings.Contains(err.Error(), "already") {
		t.Errorf("error = %v, want already-running", err)
	}
}

// --- Auth ---

func doRaw(t *testing.T, socketPath, token, method, path string, body io.Reader) (*http.Response, []byte) {
	t.Helper()
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
	req, err := http.NewRequest(method, "http://daemon"+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestAuthRejectsMissingAndWrongToken(t *testing.T) {
	srv, dir := newTestServer(t)
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()
	socketPath := filepath.Join(dir, "test.sock")

	resp, _ := doRaw(t, socketPath, "", "GET", "/v1/status", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	resp, _ = doRaw(t, socketPath, "wrong-token", "GET", "/v1/status", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", resp.StatusCode)
	}
}

func TestAuthAcceptsCookieToken(t *testing.T) {
	srv, dir := newTestServer(t)
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	token, err := os.ReadFile(filepath.Join(dir, ".test-cookie"))
	if err != nil {
		t.Fatal(err)
	}
	resp, _ := doRaw(t, filepath.Join(dir, "test.sock"), strings.TrimSpace(string(token)), "GET", "/v1/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", resp.StatusCode)
	}
}

// --- Client ---

func TestClientMissingSocket(t *testing.T) {
	dir := t.TempDir()
	_, err := NewClient(filepath.Join(dir, "missing.sock"), filepath.Join(dir, "cookie"))
	if err == nil {
		t.Fatal("expected error for missing socket")
	}
}

func TestClientMissingCookie(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")
	os.WriteFile(socketPath, []byte{}, 0600) // socket file exists, cookie does not

	_, err := NewClient(socketPath, filepath.Join(dir, "nonexistent-cookie"))
	if err == nil {
		t.Fatal("expected error for missing cookie")
	}
	if !strings.Contains(err.Error(), "cookie") {
		t.Errorf("expected cookie-related error, got: %v", err)
	}
}

func TestClientIntegration(t *testing.T) {
	// End-to-end over the Unix socket: status, node/endpoint listings, and
	// the TLV publish/withdraw cycle against a real engine.
	srv, dir := newTestServer(t)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop()

	client, err := NewClient(filepath.Join(dir, "test.sock"), filepath.Join(dir, ".test-cookie"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Version != "test-0.1.0" {
		t.Errorf("version = %q, want test-0.1.0", status.Version)
	}
	if status.UptimeSeconds < 60 {
		t.Errorf("uptime = %d, want >= 60", status.UptimeSeconds)
	}

	text, err := client.StatusText()
	if err != nil {
		t.Fatalf("StatusText: %v", err)
	}
	if !strings.Contains(text, "version: test-0.1.0") {
		t.Errorf("text status %q lacks version line", text)
	}

	eps, err := client.Endpoints()
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}
	if len(eps) != 0 {
		t.Errorf("endpoints = %v, want none", eps)
	}

	// Publish a TLV, watch the own-node record appear, withdraw it again.
	handle, err := client.AddTLV(40, []byte("svc-record"))
	if err != nil {
		t.Fatalf("AddTLV: %v", err)
	}
	if handle == "" {
		t.Fatal("empty handle")
	}

	if _, err := client.AddTLV(40, []byte("svc-record")); err == nil {
		t.Error("duplicate AddTLV succeeded, want error")
	}

	deadline := time.Now().Add(2 * time.Second)
	var nodes []NodeInfo
	for time.Now().Before(deadline) {
		nodes, err = client.Nodes()
		if err != nil {
			t.Fatalf("Nodes: %v", err)
		}
		if len(nodes) == 1 && nodes[0].TLVCount == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(nodes) != 1 || nodes[0].TLVCount != 1 {
		t.Fatalf("nodes = %+v, want exactly the own record with one TLV", nodes)
	}

	got, err := client.Node(nodes[0].NodeID)
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	if got.NodeID != nodes[0].NodeID {
		t.Errorf("Node returned %q, want %q", got.NodeID, nodes[0].NodeID)
	}

	if err := client.RemoveTLV(handle); err != nil {
		t.Fatalf("RemoveTLV: %v", err)
	}
}

func TestShutdownEndpointSignalsChannel(t *testing.T) {
	srv, dir := newTestServer(t)
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	client, err := NewClient(filepath.Join(dir, "test.sock"), filepath.Join(dir, ".test-cookie"))
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case <-srv.ShutdownCh():
	case <-time.After(2 * time.Second):
		t.Error("ShutdownCh not closed after POST /v1/shutdown")
	}
}

func TestErrorResponseShape(t *testing.T) {
	srv, dir := newTestServer(t)
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	token, _ := os.ReadFile(filepath.Join(dir, ".test-cookie"))
	resp, body := doRaw(t, filepath.Join(dir, "test.sock"), strings.TrimSpace(string(token)), "GET", "/v1/nodes/zz-not-hex", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if errResp.Error == "" {
		t.Error("error body has empty message")
	}
}
