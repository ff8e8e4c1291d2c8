package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	riobridge "github.com/nerrad567/gray-logic-rio/internal/bridges/rio"
	"github.com/nerrad567/gray-logic-rio/internal/history"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/logging"
	rioclient "github.com/nerrad567/gray-logic-rio/internal/rio"
	"github.com/nerrad567/gray-logic-rio/migrations"
)

// fakeBridge implements Bridge.
type fakeBridge struct {
	mu       sync.Mutex
	devices  map[string]riobridge.DeviceInfo
	executed []riobridge.CommandMessage
	reply    string
	err      error
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{devices: map[string]riobridge.DeviceInfo{
		"C[1].Z[1]": {ID: "C[1].Z[1]", Kind: riobridge.KindZone, Name: "Kitchen"},
		"S[1]":      {ID: "S[1]", Kind: riobridge.KindSource},
	}}
}

func (f *fakeBridge) Devices() []riobridge.DeviceInfo {
	return []riobridge.DeviceInfo{f.devices["C[1].Z[1]"], f.devices["S[1]"]}
}

func (f *fakeBridge) Device(id string) (riobridge.DeviceInfo, bool) {
	d, ok := f.devices[id]
	return d, ok
}

func (f *fakeBridge) Status() riobridge.Status {
	return riobridge.Status{BridgeID: "rio-test", Address: "10.0.0.5:9621", Connected: true, State: "connected", Devices: len(f.devices)}
}

func (f *fakeBridge) Execute(_ context.Context, cmd riobridge.CommandMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, cmd)
	return f.reply, f.err
}

// fakeController implements Controller.
type fakeController struct {
	mu        sync.Mutex
	connected bool
	cache     map[string]map[string]string
	sent      []string
	err       error
}

func newFakeController() *fakeController {
	return &fakeController{
		connected: true,
		cache: map[string]map[string]string{
			"C[1].Z[1]": {"volume": "20", "status": "ON"},
		},
	}
}

func (f *fakeController) GetVariable(_ context.Context, deviceID, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if v, ok := f.cache[deviceID][strings.ToLower(key)]; ok {
		return v, nil
	}
	f.sent = append(f.sent, fmt.Sprintf("GET %s.%s", deviceID, key))
	return "", nil
}

func (f *fakeController) SetVariable(_ context.Context, deviceID, key, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, fmt.Sprintf(`SET %s.%s="%s"`, deviceID, key, value))
	return "", nil
}

func (f *fakeController) SendEvent(_ context.Context, deviceID, event string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	text := fmt.Sprintf("EVENT %s!%s", deviceID, event)
	if len(args) > 0 {
		text += " " + strings.Join(args, " ")
	}
	f.sent = append(f.sent, text)
	return "", nil
}

func (f *fakeController) Snapshot(deviceID string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.cache[deviceID] {
		out[k] = v
	}
	return out
}

func (f *fakeController) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeController) Version() string { return "1.10.00" }

func (f *fakeController) Stats() rioclient.Stats {
	return rioclient.Stats{CommandsTx: 3, EventsRx: 9, Connected: f.IsConnected()}
}

func (f *fakeController) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type testEnv struct {
	srv        *Server
	handler    http.Handler
	bridge     *fakeBridge
	controller *fakeController
	history    *history.SQLiteRepository
}

// newTestEnv creates a Server backed by fakes and an in-memory history database.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	env := &testEnv{
		bridge:     newFakeBridge(),
		controller: newFakeController(),
		history:    history.NewSQLiteRepository(db.DB),
	}

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:     logging.Discard(),
		Bridge:     env.bridge,
		Controller: env.controller,
		History:    env.history,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.srv = srv
	env.handler = srv.buildRouter()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("response is not JSON: %q", rec.Body.String())
		}
	}
	return rec, out
}

func TestNewValidation(t *testing.T) {
	log := logging.Discard()
	tests := []struct {
		name string
		deps Deps
	}{
		{"missing logger", Deps{Bridge: newFakeBridge(), Controller: newFakeController()}},
		{"missing bridge", Deps{Logger: log, Controller: newFakeController()}},
		{"missing controller", Deps{Logger: log, Bridge: newFakeBridge()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}

	env.controller.mu.Lock()
	env.controller.connected = false
	env.controller.mu.Unlock()

	_, body = env.do(t, http.MethodGet, "/api/v1/health", "")
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	bridge, _ := body["bridge"].(map[string]any)
	if bridge["bridge_id"] != "rio-test" || bridge["state"] != "connected" {
		t.Errorf("bridge = %v", body["bridge"])
	}
	stats, _ := body["statistics"].(map[string]any)
	if stats["events_received"] != 9.0 {
		t.Errorf("statistics = %v", body["statistics"])
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}

	tests := []struct {
		origin string
		want   string
	}{
		{"http://panel.local", "http://panel.local"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("Allow-Origin for %s = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestListDevices(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/v1/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["count"] != 2.0 {
		t.Errorf("count = %v, want 2", body["count"])
	}
}

func TestGetDevice(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"zone", "/api/v1/devices/C[1].Z[1]", http.StatusOK},
		{"escaped zone", "/api/v1/devices/C%5B1%5D.Z%5B1%5D", http.StatusOK},
		{"unknown", "/api/v1/devices/C[2].Z[1]", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := env.do(t, http.MethodGet, tt.path, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%v)", rec.Code, tt.status, body)
			}
			if tt.status != http.StatusOK {
				return
			}
			state, _ := body["state"].(map[string]any)
			if body["name"] != "Kitchen" || state["volume"] != "20" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestGetVariable(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/v1/devices/C[1].Z[1]/variables/volume", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["value"] != "20" {
		t.Errorf("value = %v, want 20", body["value"])
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/devices/C[1].Z[1]/variables/bad.key", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("dotted key status = %d, want 400", rec.Code)
	}
}

func TestSetVariable(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPut, "/api/v1/devices/S[1]/variables/name", `{"value":"Tuner"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got, want := env.controller.lastSent(), `SET S[1].name="Tuner"`; got != want {
		t.Errorf("sent = %q, want %q", got, want)
	}

	rec, _ = env.do(t, http.MethodPut, "/api/v1/devices/S[1]/variables/name", `{bad`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid body status = %d, want 400", rec.Code)
	}

	rec, _ = env.do(t, http.MethodPut, "/api/v1/devices/S[1]/variables/name", `{"value":"x\"\rGET C[9].Z[9].secret"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("line break status = %d, want 400", rec.Code)
	}
	if got, want := env.controller.lastSent(), `SET S[1].name="Tuner"`; got != want {
		t.Errorf("sent after rejected value = %q, want %q", got, want)
	}
}

func TestSendEvent(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/devices/C[1].Z[1]/events", `{"event":"KeyPress","args":["Volume","20"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got, want := env.controller.lastSent(), "EVENT C[1].Z[1]!KeyPress Volume 20"; got != want {
		t.Errorf("sent = %q, want %q", got, want)
	}

	for _, body := range []string{`{"event":""}`, `{"event":"Key Press"}`, `{"event":"ZoneOn","args":["a\nb"]}`} {
		rec, _ := env.do(t, http.MethodPost, "/api/v1/devices/C[1].Z[1]/events", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s status = %d, want 400", body, rec.Code)
		}
	}
}

func TestControllerErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"rejected", &rioclient.CommandError{Command: "SET", Message: "Invalid argument"}, http.StatusUnprocessableEntity, ErrCodeRejected},
		{"not connected", rioclient.ErrNotConnected, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"connection lost", rioclient.ErrConnectionLost, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"invalid command", fmt.Errorf("%w: line break", rioclient.ErrInvalidCommand), http.StatusBadRequest, ErrCodeBadRequest},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.controller.err = tt.err

			rec, body := env.do(t, http.MethodPut, "/api/v1/devices/S[1]/variables/name", `{"value":"x"}`)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if body["code"] != tt.code {
				t.Errorf("code = %v, want %s", body["code"], tt.code)
			}
		})
	}
}

func TestCommand(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.reply = "OK"

	rec, body := env.do(t, http.MethodPost, "/api/v1/devices/C[1].Z[1]/commands", `{"command":"volume","parameters":{"level":40}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%v)", rec.Code, body)
	}
	if body["command_id"] == "" || body["reply"] != "OK" {
		t.Errorf("body = %v", body)
	}

	env.bridge.mu.Lock()
	cmd := env.bridge.executed[0]
	env.bridge.mu.Unlock()
	if cmd.Source != "api" || cmd.DeviceID != "C[1].Z[1]" || cmd.Parameters["level"] != 40.0 {
		t.Errorf("executed = %+v", cmd)
	}
	if cmd.ID != body["command_id"] {
		t.Errorf("command id %q not returned (%v)", cmd.ID, body["command_id"])
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"missing command", `{}`, nil, http.StatusBadRequest},
		{"invalid command", `{"command":"dance"}`, riobridge.ErrInvalidCommand, http.StatusBadRequest},
		{"invalid parameters", `{"command":"volume"}`, riobridge.ErrInvalidParameters, http.StatusBadRequest},
		{"bridge stopped", `{"command":"on"}`, riobridge.ErrStopped, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.bridge.err = tt.err

			rec, _ := env.do(t, http.MethodPost, "/api/v1/devices/C[1].Z[1]/commands", tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestDeviceHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, v := range []string{"10", "15", "20"} {
		if err := env.history.RecordChange(ctx, "C[1].Z[1]", "volume", v, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	if err := env.history.RecordChange(ctx, "C[1].Z[1]", "status", "ON", base); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		query  string
		status int
		count  float64
		first  string
	}{
		{"all", "", http.StatusOK, 4, "20"},
		{"variable", "?variable=volume", http.StatusOK, 3, "20"},
		{"limit", "?variable=volume&limit=1", http.StatusOK, 1, "20"},
		{"since", "?variable=volume&since=2026-03-01T12:01:00Z", http.StatusOK, 2, "20"},
		{"bad limit", "?limit=0", http.StatusBadRequest, 0, ""},
		{"limit too large", "?limit=501", http.StatusBadRequest, 0, ""},
		{"bad since", "?since=yesterday", http.StatusBadRequest, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := env.do(t, http.MethodGet, "/api/v1/devices/C[1].Z[1]/history"+tt.query, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%v)", rec.Code, tt.status, body)
			}
			if tt.status != http.StatusOK {
				return
			}
			if body["count"] != tt.count {
				t.Errorf("count = %v, want %v", body["count"], tt.count)
			}
			entries, _ := body["history"].([]any)
			if len(entries) > 0 {
				first, _ := entries[0].(map[string]any)
				if first["value"] != tt.first {
					t.Errorf("first value = %v, want %s", first["value"], tt.first)
				}
			}
		})
	}
}

func TestHistoryUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.srv.history = nil

	for _, path := range []string{"/api/v1/devices/C[1].Z[1]/history", "/api/v1/connections"} {
		rec, _ := env.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, rec.Code)
		}
	}
}

func TestListConnections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	events := []history.ConnectionEvent{
		{Address: "10.0.0.5:9621", Connected: true, Version: "1.10.00", RecordedAt: time.Now().Add(-time.Minute)},
		{Address: "10.0.0.5:9621", Connected: false, RecordedAt: time.Now()},
	}
	for _, ev := range events {
		if err := env.history.RecordConnection(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	rec, body := env.do(t, http.MethodGet, "/api/v1/connections", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["count"] != 2.0 {
		t.Fatalf("count = %v, want 2", body["count"])
	}
	list, _ := body["connections"].([]any)
	newest, _ := list[0].(map[string]any)
	if newest["connected"] != false {
		t.Errorf("newest event = %v, want disconnect first", newest)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go env.srv.Hub().Run(ctx)

	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ChannelVariableChanged}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}

	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("response = %+v", resp)
	}

	env.srv.Hub().ConnectionChanged(riobridge.ConnectionUpdate{Connected: true})
	env.srv.Hub().VariableChanged(riobridge.VariableUpdate{DeviceID: "C[1].Z[1]", Variable: "volume", Value: "25"})

	var ev WSMessage
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != WSTypeEvent || ev.EventType != ChannelVariableChanged {
		t.Fatalf("event = %+v, want %s only", ev, ChannelVariableChanged)
	}
	payload, _ := ev.Payload.(map[string]any)
	if payload["device_id"] != "C[1].Z[1]" || payload["value"] != "25" {
		t.Errorf("payload = %v", ev.Payload)
	}
}

func TestWebSocketPingAndUnknownType(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	tests := []struct {
		send WSMessage
		want string
	}{
		{WSMessage{Type: WSTypePing, ID: "p"}, WSTypePong},
		{WSMessage{Type: "launch", ID: "x"}, WSTypeError},
	}
	for _, tt := range tests {
		if err := conn.WriteJSON(tt.send); err != nil {
			t.Fatal(err)
		}
		var got WSMessage
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatal(err)
		}
		if got.Type != tt.want || got.ID != tt.send.ID {
			t.Errorf("reply to %s = %+v, want type %s", tt.send.Type, got, tt.want)
		}
	}

	if n := env.srv.Hub().ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d, want 1", n)
	}
}
