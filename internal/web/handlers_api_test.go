package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/gjson"

	"otbr-gateway/internal/gateway"
	"otbr-gateway/internal/otstack/sim"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestServer(t *testing.T, opts ...ServerOption) (*Server, *gateway.Gateway) {
	t.Helper()
	logger := newTestLogger()
	gate := gateway.NewGate()
	stack := sim.New(gate, logger)

	metrics := gateway.NewMetricsCollector()
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics)

	gw := gateway.New(stack, gate, gateway.Config{}, logger, gateway.WithMetrics(metrics))
	t.Cleanup(func() {
		gw.Close()
		stack.Close()
	})

	srv := NewServer(gw, logger, append([]ServerOption{WithMetrics(reg), WithVersion("test")}, opts...)...)
	t.Cleanup(srv.Stop)
	return srv, gw
}

func do(t *testing.T, srv *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestAPIListCommands(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, "GET", "/api/otbr", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var cmds []commandView
	if err := json.NewDecoder(w.Body).Decode(&cmds); err != nil {
		t.Fatal(err)
	}
	var found *commandView
	for i := range cmds {
		if cmds[i].Name == "setchannel" {
			found = &cmds[i]
		}
	}
	if found == nil {
		t.Fatal("setchannel not listed")
	}
	if !found.Mutates {
		t.Error("setchannel should be marked as mutating")
	}
	if len(found.Params) != 1 || found.Params[0].Name != "channel" || found.Params[0].Type != "int32" {
		t.Errorf("params = %+v", found.Params)
	}
}

func TestAPICallGetter(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, "POST", "/api/otbr/channel", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	res := gjson.Parse(w.Body.String())
	if got := res.Get("Channel").Int(); got != 11 {
		t.Errorf("Channel = %d, want 11", got)
	}
	if got := res.Get("Error").Int(); got != 0 {
		t.Errorf("Error = %d, want 0", got)
	}
}

func TestAPICallSetter(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, "POST", "/api/otbr/setchannel", `{"channel":20}`, nil)
	if got := gjson.Get(w.Body.String(), "Error").Int(); got != 0 {
		t.Fatalf("setchannel Error = %d, body %s", got, w.Body.String())
	}

	w = do(t, srv, "POST", "/api/otbr/channel", "", nil)
	if got := gjson.Get(w.Body.String(), "Channel").Int(); got != 20 {
		t.Errorf("Channel = %d, want 20", got)
	}
}

func TestAPICallBadParams(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, "POST", "/api/otbr/setchannel", `not json`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := gjson.Get(w.Body.String(), "Error").Int(); got != 6 {
		t.Errorf("Error = %d, want 6 (Parse)", got)
	}
}

func TestAPICallUnknownMethod(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, "POST", "/api/otbr/nosuchthing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPICallPayloadLimit(t *testing.T) {
	srv, _ := setupTestServer(t)

	body := `{"networkname":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	w := do(t, srv, "POST", "/api/otbr/setnetworkname", body, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestAPIStatus(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, "GET", "/api/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var st gateway.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Role != "disabled" {
		t.Errorf("role = %q, want disabled", st.Role)
	}
	if st.NetworkName != "OpenThread" || st.Channel != 11 || st.PanID != "0xface" {
		t.Errorf("status = %+v", st)
	}
}

func TestAPIVersion(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, "GET", "/api/version", "", nil)
	if got := gjson.Get(w.Body.String(), "version").String(); got != "test" {
		t.Errorf("version = %q, want test", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t)

	do(t, srv, "POST", "/api/otbr/channel", "", nil)

	w := do(t, srv, "GET", "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	want := `otbr_gateway_requests_total{command="channel",status="0"} 1`
	if !strings.Contains(w.Body.String(), want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, "GET", "/api/version", "", map[string]string{"X-Request-ID": "abc"})
	if got := w.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID = %q, want abc", got)
	}

	w = do(t, srv, "GET", "/api/version", "", nil)
	if got := w.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a uuid", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := setupTestServer(t, WithAPIKey("secret-key"))

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"valid key", "/api/version", map[string]string{"X-API-Key": "secret-key"}, http.StatusOK},
		{"missing key", "/api/version", nil, http.StatusUnauthorized},
		{"wrong key", "/api/version", map[string]string{"X-API-Key": "wrong-key"}, http.StatusUnauthorized},
		{"metrics not guarded", "/metrics", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, "GET", tt.path, "", tt.header)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	srv, _ := setupTestServer(t, WithAllowedOrigins([]string{"http://ok.example"}))

	tests := []struct {
		name   string
		method string
		origin string
		want   int
	}{
		{"preflight allowed", "OPTIONS", "http://ok.example", http.StatusNoContent},
		{"preflight denied", "OPTIONS", "http://evil.example", http.StatusForbidden},
		{"post allowed", "POST", "http://ok.example", http.StatusOK},
		{"post denied", "POST", "http://evil.example", http.StatusForbidden},
		{"no origin", "POST", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := map[string]string{}
			if tt.origin != "" {
				header["Origin"] = tt.origin
			}
			w := do(t, srv, tt.method, "/api/otbr/channel", "", header)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
