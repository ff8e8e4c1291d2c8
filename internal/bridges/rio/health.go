package rio

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval is used when no interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthReporter publishes bridge health to MQTT at regular intervals.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	connector Connector
	dropped   func() uint64

	mu             sync.RWMutex
	deviceCount    int
	connectedSince *time.Time

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Connector provides controller connection statistics.
	Connector Connector

	// Dropped returns the number of dropped updates. Optional.
	Dropped func() uint64
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		connector: cfg.Connector,
		dropped:   cfg.Dropped,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetDeviceCount updates the managed device count.
func (h *HealthReporter) SetDeviceCount(count int) {
	h.mu.Lock()
	h.deviceCount = count
	h.mu.Unlock()
}

// SetConnected records a controller connection transition.
func (h *HealthReporter) SetConnected(connected bool, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if connected {
		since := at.UTC()
		h.connectedSince = &since
	} else {
		h.connectedSince = nil
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.connector == nil {
		return HealthUnhealthy, "no controller connection"
	}
	if h.connector.IsConnected() {
		return HealthHealthy, ""
	}
	if h.connector.Stats().Reconnecting {
		return HealthDegraded, "controller reconnecting"
	}
	return HealthUnhealthy, "controller disconnected"
}

// buildMessage assembles a health message for status.
func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	h.mu.RLock()
	deviceCount := h.deviceCount
	var since *time.Time
	if h.connectedSince != nil {
		t := *h.connectedSince
		since = &t
	}
	h.mu.RUnlock()

	var dropped uint64
	if h.dropped != nil {
		dropped = h.dropped()
	}

	var msg HealthMessage
	if h.connector != nil {
		msg = NewHealthMessage(h.bridgeID, h.version, status, h.connector.Stats(), dropped, deviceCount, h.startTime)
		msg.Connection.Address = h.connector.Address()
		if msg.Connection.Status == "connected" {
			msg.Connection.ConnectedSince = since
		}
	} else {
		msg = HealthMessage{
			Bridge:         h.bridgeID,
			Timestamp:      time.Now().UTC(),
			Status:         status,
			Version:        h.version,
			UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
			DevicesManaged: deviceCount,
		}
	}
	msg.Reason = reason
	return msg
}

// publishStatus publishes a retained health message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(HealthTopic(), payload, mqttQoS, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
