package rio

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-rio/internal/history"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/influxdb"
	rioclient "github.com/nerrad567/gray-logic-rio/internal/rio"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions map[string]func(topic string, payload []byte)
	connected     bool
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected:     true,
		subscriptions: make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// Deliver routes a message to the handler whose pattern matches topic.
func (m *MockMQTTClient) Deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	var handler func(string, []byte)
	for pattern, h := range m.subscriptions {
		if topicMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(topic, payload)
	return true
}

func (m *MockMQTTClient) Subscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subscriptions))
	for t := range m.subscriptions {
		out = append(out, t)
	}
	return out
}

// PublishedTo returns messages published on topic, oldest first.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// topicMatches implements single-level "+" and trailing "#" wildcards.
func topicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	for i, p := range pp {
		if p == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if p != "+" && p != tp[i] {
			return false
		}
	}
	return len(pp) == len(tp)
}

// MockConnector implements Connector for testing.
type MockConnector struct {
	mu        sync.Mutex
	connected bool
	stats     rioclient.Stats
	version   string
	commands  []string
	watched   []string
	cache     map[string]map[string]string
	callbacks map[rioclient.CallbackID]mockCallback
	connCBs   map[rioclient.CallbackID]rioclient.ConnectionCallback
	nextID    rioclient.CallbackID
	sendErr   error
	reply     string
}

type mockCallback struct {
	deviceID string
	fn       rioclient.Callback
}

func NewMockConnector() *MockConnector {
	return &MockConnector{
		connected: true,
		version:   "1.10.00",
		cache:     make(map[string]map[string]string),
		callbacks: make(map[rioclient.CallbackID]mockCallback),
		connCBs:   make(map[rioclient.CallbackID]rioclient.ConnectionCallback),
	}
}

func (m *MockConnector) SendCommand(_ context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.commands = append(m.commands, text)
	return m.reply, nil
}

func (m *MockConnector) GetVariable(ctx context.Context, deviceID, key string) (string, error) {
	m.mu.Lock()
	if v, ok := m.cache[deviceID][strings.ToLower(key)]; ok {
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()
	return m.SendCommand(ctx, fmt.Sprintf("GET %s.%s", deviceID, key))
}

func (m *MockConnector) GetCachedVariable(deviceID, key, def string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.cache[deviceID][strings.ToLower(key)]; ok {
		return v
	}
	return def
}

func (m *MockConnector) SetVariable(ctx context.Context, deviceID, key, value string) (string, error) {
	return m.SendCommand(ctx, fmt.Sprintf(`SET %s.%s="%s"`, deviceID, key, value))
}

func (m *MockConnector) SendEvent(ctx context.Context, deviceID, event string, args ...string) (string, error) {
	text := fmt.Sprintf("EVENT %s!%s", deviceID, event)
	if len(args) > 0 {
		text += " " + strings.Join(args, " ")
	}
	return m.SendCommand(ctx, text)
}

func (m *MockConnector) Watch(ctx context.Context, deviceID string) (string, error) {
	m.mu.Lock()
	m.watched = append(m.watched, deviceID)
	m.mu.Unlock()
	return m.SendCommand(ctx, "WATCH "+deviceID+" ON")
}

func (m *MockConnector) Unwatch(ctx context.Context, deviceID string) (string, error) {
	return m.SendCommand(ctx, "WATCH "+deviceID+" OFF")
}

func (m *MockConnector) AddCallback(deviceID string, fn rioclient.Callback) rioclient.CallbackID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.callbacks[m.nextID] = mockCallback{deviceID: deviceID, fn: fn}
	return m.nextID
}

func (m *MockConnector) RemoveCallback(id rioclient.CallbackID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.callbacks, id)
}

func (m *MockConnector) AddConnectionCallback(fn rioclient.ConnectionCallback) rioclient.CallbackID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.connCBs[m.nextID] = fn
	return m.nextID
}

func (m *MockConnector) RemoveConnectionCallback(id rioclient.CallbackID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connCBs, id)
}

func (m *MockConnector) Snapshot(deviceID string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.cache[deviceID]))
	for k, v := range m.cache[deviceID] {
		out[k] = v
	}
	return out
}

func (m *MockConnector) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockConnector) Address() string { return "10.0.0.5:9621" }

func (m *MockConnector) Version() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

func (m *MockConnector) Stats() rioclient.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Connected = m.connected
	if m.connected {
		s.State = rioclient.StateConnected
		s.Version = m.version
	}
	return s
}

// push stores a value and notifies callbacks the way the client cache does,
// including fan-out of source updates to zones tuned to that source.
func (m *MockConnector) push(deviceID, variable, value string) {
	variable = strings.ToLower(variable)

	m.mu.Lock()
	if m.cache[deviceID] == nil {
		m.cache[deviceID] = make(map[string]string)
	}
	m.cache[deviceID][variable] = value

	targets := map[string]bool{deviceID: true}
	if n, err := rioclient.ParseSourceID(deviceID); err == nil {
		for id, vars := range m.cache {
			if rioclient.IsZoneID(id) && vars["currentsource"] == fmt.Sprint(n) {
				targets[id] = true
			}
		}
	}
	var fns []rioclient.Callback
	for _, cb := range m.callbacks {
		if targets[cb.deviceID] {
			fns = append(fns, cb.fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(deviceID, variable, value)
	}
}

func (m *MockConnector) setConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	fns := make([]rioclient.ConnectionCallback, 0, len(m.connCBs))
	for _, fn := range m.connCBs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

func (m *MockConnector) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func (m *MockConnector) callbackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callbacks) + len(m.connCBs)
}

// recordingHistory implements HistoryRecorder.
type recordingHistory struct {
	mu          sync.Mutex
	changes     []history.Entry
	connections []history.ConnectionEvent
}

func (r *recordingHistory) RecordChange(_ context.Context, deviceID, variable, value string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, history.Entry{DeviceID: deviceID, Variable: variable, Value: value, RecordedAt: at})
	return nil
}

func (r *recordingHistory) RecordConnection(_ context.Context, ev history.ConnectionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections = append(r.connections, ev)
	return nil
}

func (r *recordingHistory) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes), len(r.connections)
}

// recordingPoints implements PointWriter.
type recordingPoints struct {
	mu          sync.Mutex
	samples     []influxdb.VariableSample
	connections []bool
}

func (r *recordingPoints) WriteVariable(sample influxdb.VariableSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample)
}

func (r *recordingPoints) WriteConnection(_ string, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections = append(r.connections, connected)
}

func (r *recordingPoints) sampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// recordingListener implements Listener.
type recordingListener struct {
	mu          sync.Mutex
	variables   []VariableUpdate
	connections []ConnectionUpdate
}

func (r *recordingListener) VariableChanged(u VariableUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables = append(r.variables, u)
}

func (r *recordingListener) ConnectionChanged(u ConnectionUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections = append(r.connections, u)
}

func (r *recordingListener) variableUpdates() []VariableUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]VariableUpdate(nil), r.variables...)
}

func testBridgeConfig() config.BridgeConfig {
	return config.BridgeConfig{
		ID:             "rio-test",
		HealthInterval: 60,
		QueueSize:      64,
		Zones: []config.ZoneConfig{
			{Controller: 1, Zone: 1, Name: "Kitchen"},
			{Controller: 1, Zone: 2, Name: "Lounge"},
		},
		Sources: []int{1},
	}
}

type testHarness struct {
	bridge   *Bridge
	mqtt     *MockMQTTClient
	conn     *MockConnector
	history  *recordingHistory
	points   *recordingPoints
	listener *recordingListener
}

// newTestHarness creates and starts a bridge wired to mocks.
func newTestHarness(t *testing.T, cfg config.BridgeConfig) *testHarness {
	t.Helper()

	h := &testHarness{
		mqtt:     NewMockMQTTClient(),
		conn:     NewMockConnector(),
		history:  &recordingHistory{},
		points:   &recordingPoints{},
		listener: &recordingListener{},
	}

	b, err := NewBridge(Options{
		Config:     cfg,
		Version:    "test",
		MQTTClient: h.mqtt,
		Connector:  h.conn,
		History:    h.history,
		Points:     h.points,
		Listener:   h.listener,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	h.bridge = b
	return h
}

// sendCommand delivers a command over the mock broker.
func (h *testHarness) sendCommand(t *testing.T, deviceID string, cmd CommandMessage) {
	t.Helper()
	payload, err := json.Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if !h.mqtt.Deliver(CommandTopic(deviceID), payload) {
		t.Fatalf("no subscription for %s", CommandTopic(deviceID))
	}
}

// lastAck decodes the newest ack on a device's ack topic.
func (h *testHarness) lastAck(t *testing.T, deviceID string) AckMessage {
	t.Helper()
	acks := h.mqtt.PublishedTo(AckTopic(deviceID))
	if len(acks) == 0 {
		t.Fatalf("no ack published for %s", deviceID)
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[len(acks)-1].Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return ack
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
