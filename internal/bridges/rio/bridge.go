package rio

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-rio/internal/history"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/influxdb"
	rioclient "github.com/nerrad567/gray-logic-rio/internal/rio"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one command or request round trip.
	commandTimeout = 10 * time.Second

	// persistTimeout bounds one history write.
	persistTimeout = 5 * time.Second

	// defaultQueueSize is used when the configured queue size is not positive.
	defaultQueueSize = 1024

	// mqttQoS is the QoS of every bridge publish and subscription.
	mqttQoS = 1
)

// Connector is the subset of *rioclient.Client the bridge uses.
type Connector interface {
	SendCommand(ctx context.Context, text string) (string, error)
	GetVariable(ctx context.Context, deviceID, key string) (string, error)
	GetCachedVariable(deviceID, key, def string) string
	SetVariable(ctx context.Context, deviceID, key, value string) (string, error)
	SendEvent(ctx context.Context, deviceID, event string, args ...string) (string, error)
	Watch(ctx context.Context, deviceID string) (string, error)
	Unwatch(ctx context.Context, deviceID string) (string, error)
	AddCallback(deviceID string, fn rioclient.Callback) rioclient.CallbackID
	RemoveCallback(id rioclient.CallbackID)
	AddConnectionCallback(fn rioclient.ConnectionCallback) rioclient.CallbackID
	RemoveConnectionCallback(id rioclient.CallbackID)
	Snapshot(deviceID string) map[string]string
	IsConnected() bool
	Address() string
	Version() string
	Stats() rioclient.Stats
}

// Ensure the RIO client implements Connector.
var _ Connector = (*rioclient.Client)(nil)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// HistoryRecorder persists the audit trail. Satisfied by *history.SQLiteRepository.
type HistoryRecorder interface {
	RecordChange(ctx context.Context, deviceID, variable, value string, at time.Time) error
	RecordConnection(ctx context.Context, ev history.ConnectionEvent) error
}

// PointWriter records time-series points. Satisfied by *influxdb.Client.
type PointWriter interface {
	WriteVariable(sample influxdb.VariableSample)
	WriteConnection(address string, connected bool)
}

// Listener receives every processed update, after MQTT publication.
// Implementations must not block.
type Listener interface {
	VariableChanged(update VariableUpdate)
	ConnectionChanged(update ConnectionUpdate)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DeviceInfo describes one configured device.
type DeviceInfo struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
}

// VariableUpdate is one variable change observed on a configured device.
type VariableUpdate struct {
	DeviceID string    `json:"device_id"`
	Kind     string    `json:"kind"`
	Variable string    `json:"variable"`
	Value    string    `json:"value"`
	Time     time.Time `json:"time"`
}

// ConnectionUpdate is one controller connection transition.
type ConnectionUpdate struct {
	Address   string    `json:"address"`
	Connected bool      `json:"connected"`
	Version   string    `json:"version,omitempty"`
	Time      time.Time `json:"time"`
}

// queueItem carries exactly one of its fields.
type queueItem struct {
	variable   *VariableUpdate
	connection *ConnectionUpdate
}

// Status is a point-in-time view of the bridge for the HTTP API.
type Status struct {
	BridgeID       string          `json:"bridge_id"`
	Address        string          `json:"address"`
	Connected      bool            `json:"connected"`
	State          string          `json:"state"`
	Version        string          `json:"firmware_version,omitempty"`
	Devices        int             `json:"devices"`
	QueueDepth     int             `json:"queue_depth"`
	UpdatesDropped uint64          `json:"updates_dropped"`
	Stats          rioclient.Stats `json:"-"`
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Config is the bridge section of the service configuration.
	Config config.BridgeConfig

	// Version is the bridge software version reported in health messages.
	Version string

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Connector is the RIO controller connection.
	Connector Connector

	// History is optional; nil disables the SQLite audit trail.
	History HistoryRecorder

	// Points is optional; nil disables InfluxDB points.
	Points PointWriter

	// Listener is optional; the HTTP WebSocket hub uses it.
	Listener Listener

	// Logger is an optional structured logger.
	Logger Logger
}

// Bridge connects one RIO controller to the Gray Logic MQTT bus.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       config.BridgeConfig
	mqtt      MQTTClient
	conn      Connector
	history   HistoryRecorder
	points    PointWriter
	listener  Listener
	health    *HealthReporter
	devices   map[string]DeviceInfo
	deviceIDs []string

	queue   chan queueItem
	dropped atomic.Uint64

	// Last published value per device and variable; worker-owned.
	lastValues map[string]map[string]string

	callbackIDs []rioclient.CallbackID
	connCBID    rioclient.CallbackID
	regMu       sync.Mutex

	started   atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Start to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Connector == nil {
		return nil, fmt.Errorf("RIO connector is required")
	}

	devices, err := configuredDevices(opts.Config)
	if err != nil {
		return nil, err
	}

	queueSize := opts.Config.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        opts.Config,
		mqtt:       opts.MQTTClient,
		conn:       opts.Connector,
		history:    opts.History,
		points:     opts.Points,
		listener:   opts.Listener,
		devices:    devices,
		queue:      make(chan queueItem, queueSize),
		lastValues: make(map[string]map[string]string),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}
	for id := range devices {
		b.deviceIDs = append(b.deviceIDs, id)
	}
	sort.Strings(b.deviceIDs)

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.ID,
		Version:   opts.Version,
		Interval:  opts.Config.HealthIntervalDuration(),
		Publisher: opts.MQTTClient,
		Connector: opts.Connector,
		Dropped:   b.dropped.Load,
	})
	b.health.SetDeviceCount(len(devices))
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// configuredDevices builds the device table from the zones and sources lists.
func configuredDevices(cfg config.BridgeConfig) (map[string]DeviceInfo, error) {
	devices := make(map[string]DeviceInfo, len(cfg.Zones)+len(cfg.Sources))
	for _, z := range cfg.Zones {
		if z.Controller < 1 || z.Zone < 1 {
			return nil, fmt.Errorf("%w: zone C[%d].Z[%d]", ErrInvalidParameters, z.Controller, z.Zone)
		}
		id := rioclient.ZoneID(z.Controller, z.Zone)
		devices[id] = DeviceInfo{ID: id, Kind: KindZone, Name: z.Name}
	}
	for _, s := range cfg.Sources {
		if s < 1 {
			return nil, fmt.Errorf("%w: source S[%d]", ErrInvalidParameters, s)
		}
		id := rioclient.SourceID(s)
		devices[id] = DeviceInfo{ID: id, Kind: KindSource}
	}
	return devices, nil
}

// Start begins bridge operation.
//
// It publishes "starting" health, registers client callbacks, subscribes to
// command and request topics, watches every configured device and starts
// the worker and health reporting. Watches sent while the controller is
// unreachable are replayed by the client once it connects.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bridge already started")
	}

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.registerCallbacks()

	b.wg.Add(1)
	go b.worker()

	if err := b.mqtt.Subscribe(CommandSubscribeTopic(), mqttQoS, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", CommandSubscribeTopic())

	if err := b.mqtt.Subscribe(RequestSubscribeTopic(), mqttQoS, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", RequestSubscribeTopic())

	b.watchAll(ctx)

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.cfg.ID,
		"devices", len(b.devices),
		"controller", b.conn.Address())

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.unregisterCallbacks()

		close(b.done)
		b.ctxCancel()

		b.health.Stop()
		b.wg.Wait()

		b.logInfo("bridge stopped", "updates_dropped", b.dropped.Load())
	})
}

func (b *Bridge) registerCallbacks() {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	for _, id := range b.deviceIDs {
		dev := b.devices[id]
		b.callbackIDs = append(b.callbackIDs, b.conn.AddCallback(id, func(deviceID, variable, value string) {
			b.onVariable(dev, deviceID, variable, value)
		}))
	}
	b.connCBID = b.conn.AddConnectionCallback(b.onConnection)
}

func (b *Bridge) unregisterCallbacks() {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	for _, id := range b.callbackIDs {
		b.conn.RemoveCallback(id)
	}
	b.callbackIDs = nil
	if b.connCBID != 0 {
		b.conn.RemoveConnectionCallback(b.connCBID)
		b.connCBID = 0
	}
}

// watchAll sends WATCH for every configured device.
func (b *Bridge) watchAll(ctx context.Context) {
	for _, id := range b.deviceIDs {
		watchCtx, cancel := context.WithTimeout(ctx, commandTimeout)
		_, err := b.conn.Watch(watchCtx, id)
		cancel()
		if err != nil {
			b.logDebug("watch deferred until connected", "device", id, "reason", err.Error())
		}
	}
}

// onVariable runs on the client session goroutine and must not block.
//
// A zone callback also sees its current source's updates. Those are
// attributed to the source; a source that is itself configured is left to
// its own callback.
func (b *Bridge) onVariable(registered DeviceInfo, deviceID, variable, value string) {
	dev := registered
	if deviceID != registered.ID {
		if _, own := b.devices[deviceID]; own {
			return
		}
		dev = DeviceInfo{ID: deviceID, Kind: kindOf(deviceID)}
	}

	b.enqueue(queueItem{variable: &VariableUpdate{
		DeviceID: dev.ID,
		Kind:     dev.Kind,
		Variable: variable,
		Value:    value,
		Time:     time.Now().UTC(),
	}})
}

// onConnection runs on a client goroutine and must not block.
func (b *Bridge) onConnection(connected bool) {
	update := &ConnectionUpdate{
		Address:   b.conn.Address(),
		Connected: connected,
		Time:      time.Now().UTC(),
	}
	if connected {
		update.Version = b.conn.Version()
	}
	b.enqueue(queueItem{connection: update})
}

func (b *Bridge) enqueue(item queueItem) {
	select {
	case b.queue <- item:
	default:
		n := b.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			b.logWarn("update queue full, dropping", "dropped_total", n)
		}
	}
}

// worker drains the queue until Stop.
func (b *Bridge) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case item := <-b.queue:
			switch {
			case item.variable != nil:
				b.processVariable(*item.variable)
			case item.connection != nil:
				b.processConnection(*item.connection)
			}
		}
	}
}

func (b *Bridge) processVariable(u VariableUpdate) {
	if b.valueUnchanged(u.DeviceID, u.Variable, u.Value) {
		return
	}

	dev, ok := b.devices[u.DeviceID]
	if !ok {
		dev = DeviceInfo{ID: u.DeviceID, Kind: u.Kind}
	}

	msg := NewStateMessage(dev, u.Variable, u.Value, b.conn.Snapshot(u.DeviceID))
	msg.Timestamp = u.Time
	b.publishJSON(StateTopic(u.DeviceID), msg, true)

	if b.points != nil {
		b.points.WriteVariable(influxdb.VariableSample{
			DeviceID: u.DeviceID,
			Kind:     u.Kind,
			Variable: u.Variable,
			Value:    u.Value,
			Time:     u.Time,
		})
	}

	if b.history != nil {
		ctx, cancel := context.WithTimeout(b.ctx, persistTimeout)
		if err := b.history.RecordChange(ctx, u.DeviceID, u.Variable, u.Value, u.Time); err != nil {
			b.logDebug("history write skipped", "device", u.DeviceID, "reason", err.Error())
		}
		cancel()
	}

	if b.listener != nil {
		b.listener.VariableChanged(u)
	}
}

func (b *Bridge) processConnection(u ConnectionUpdate) {
	b.logInfo("controller connection changed",
		"address", u.Address,
		"connected", u.Connected,
		"firmware_version", u.Version)

	b.health.SetConnected(u.Connected, u.Time)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}

	if b.points != nil {
		b.points.WriteConnection(u.Address, u.Connected)
	}

	if b.history != nil {
		ctx, cancel := context.WithTimeout(b.ctx, persistTimeout)
		err := b.history.RecordConnection(ctx, history.ConnectionEvent{
			Address:    u.Address,
			Connected:  u.Connected,
			Version:    u.Version,
			RecordedAt: u.Time,
		})
		cancel()
		if err != nil {
			b.logDebug("connection history write skipped", "reason", err.Error())
		}
	}

	if b.listener != nil {
		b.listener.ConnectionChanged(u)
	}
}

// valueUnchanged reports whether value equals the last published value and
// records it otherwise. Only the worker calls it.
func (b *Bridge) valueUnchanged(deviceID, variable, value string) bool {
	vars := b.lastValues[deviceID]
	if vars == nil {
		vars = make(map[string]string)
		b.lastValues[deviceID] = vars
	}
	if prev, ok := vars[variable]; ok && prev == value {
		return true
	}
	vars[variable] = value
	return false
}

// Devices returns the configured devices sorted by id.
func (b *Bridge) Devices() []DeviceInfo {
	out := make([]DeviceInfo, 0, len(b.deviceIDs))
	for _, id := range b.deviceIDs {
		out = append(out, b.devices[id])
	}
	return out
}

// Device returns one configured device.
func (b *Bridge) Device(id string) (DeviceInfo, bool) {
	dev, ok := b.devices[id]
	return dev, ok
}

// Status returns a point-in-time view of the bridge.
func (b *Bridge) Status() Status {
	stats := b.conn.Stats()
	return Status{
		BridgeID:       b.cfg.ID,
		Address:        b.conn.Address(),
		Connected:      stats.Connected,
		State:          stats.State.String(),
		Version:        stats.Version,
		Devices:        len(b.devices),
		QueueDepth:     len(b.queue),
		UpdatesDropped: b.dropped.Load(),
		Stats:          stats,
	}
}

// kindOf classifies a device id.
func kindOf(deviceID string) string {
	switch {
	case rioclient.IsZoneID(deviceID):
		return KindZone
	case rioclient.IsSourceID(deviceID):
		return KindSource
	case deviceID == "System":
		return KindSystem
	default:
		return KindController
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
