package rio

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/mqtt"
	rioclient "github.com/nerrad567/gray-logic-rio/internal/rio"
)

// Protocol is the protocol segment of every bridge topic.
const Protocol = "rio"

// Device kinds.
const (
	KindZone       = "zone"
	KindSource     = "source"
	KindController = "controller"
	KindSystem     = "system"
)

// CommandMessage is sent from Core to Bridge to control a device.
// Topic: graylogic/command/rio/{device}
type CommandMessage struct {
	// ID correlates the command with its acknowledgements. A UUID is
	// assigned when empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the RIO device address. Taken from the topic when empty.
	DeviceID string `json:"device_id"`

	// Command is the command name (e.g., "on", "volume", "select_source").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"level": 40} for volume (0-100)
	//   {"source": 2} for select_source
	//   {"key": "bass", "value": "3"} for set
	//   {"text": "EVENT C[1].Z[1]!KeyRelease Volume"} for raw
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "automation", "mqtt").
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was validated and is being sent.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the controller did not reply in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from Bridge to Core to acknowledge a command.
// Topic: graylogic/ack/rio/{device}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Reply is the controller's reply value, if any.
	Reply string `json:"reply,omitempty"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from Bridge to Core when a device variable changes.
// Topic: graylogic/state/rio/{device}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Changed holds the variable that triggered this message.
	Changed map[string]string `json:"changed"`

	// State is the full cached variable set of the device.
	State map[string]string `json:"state"`

	Protocol string `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates MQTT and the controller are connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates MQTT is down or the controller is reconnecting.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the controller is disconnected and not reconnecting.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline is published by the broker as the LWT.
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/rio
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the controller connection.
type ConnectionStatus struct {
	// Status is "connected", "reconnecting" or "disconnected".
	Status string `json:"status"`

	// Address is the controller host:port.
	Address string `json:"address"`

	// FirmwareVersion is the controller API version from the handshake.
	FirmwareVersion string `json:"firmware_version,omitempty"`

	// ConnectedSince is when the current session was established.
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	CommandsSent    uint64 `json:"commands_sent"`
	RepliesReceived uint64 `json:"replies_received"`
	EventsReceived  uint64 `json:"events_received"`
	CommandErrors   uint64 `json:"command_errors"`
	Reconnects      uint64 `json:"reconnects"`
	Errors          uint64 `json:"errors"`
	UpdatesDropped  uint64 `json:"updates_dropped"`
}

// RequestMessage is sent from Core to Bridge for request/response operations.
// Topic: graylogic/request/rio/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state", "get" or "list_devices".
	Action string `json:"action"`

	DeviceID   string         `json:"device_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/rio/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckMessage creates an acknowledgement for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgement. A TIMEOUT code yields
// status "timeout".
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for a device.
func NewStateMessage(dev DeviceInfo, variable, value string, state map[string]string) StateMessage {
	return StateMessage{
		DeviceID:  dev.ID,
		Kind:      dev.Kind,
		Name:      dev.Name,
		Timestamp: time.Now().UTC(),
		Changed:   map[string]string{variable: value},
		State:     state,
		Protocol:  Protocol,
	}
}

// NewHealthMessage creates a health status message from client statistics.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats rioclient.Stats, dropped uint64, deviceCount int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: deviceCount,
	}

	conn := &ConnectionStatus{Status: "disconnected"}
	switch {
	case stats.Connected:
		conn.Status = "connected"
		conn.FirmwareVersion = stats.Version
	case stats.Reconnecting:
		conn.Status = "reconnecting"
	}
	msg.Connection = conn

	msg.Statistics = &BridgeStatistics{
		CommandsSent:    stats.CommandsTx,
		RepliesReceived: stats.RepliesRx,
		EventsReceived:  stats.EventsRx,
		CommandErrors:   stats.CommandErrors,
		Reconnects:      stats.ReconnectsTotal,
		Errors:          stats.ErrorsTotal,
		UpdatesDropped:  dropped,
	}

	return msg
}

// NewLWTMessage creates the Last Will and Testament health message.
// The broker publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// LWT returns the topic and payload to register as the MQTT will of bridgeID.
// It is needed before the bridge exists, since the will is fixed at connect.
func LWT(bridgeID string) (string, []byte, error) {
	payload, err := json.Marshal(NewLWTMessage(bridgeID))
	if err != nil {
		return "", nil, err
	}
	return HealthTopic(), payload, nil
}

var topics mqtt.Topics

// CommandTopic returns the command topic of a device.
// Example: graylogic/command/rio/C[1].Z[2]
func CommandTopic(deviceID string) string { return topics.BridgeCommand(Protocol, deviceID) }

// AckTopic returns the acknowledgement topic of a device.
func AckTopic(deviceID string) string { return topics.BridgeAck(Protocol, deviceID) }

// StateTopic returns the state topic of a device.
func StateTopic(deviceID string) string { return topics.BridgeState(Protocol, deviceID) }

// RequestTopic returns the topic of one request.
func RequestTopic(requestID string) string { return topics.BridgeRequest(Protocol, requestID) }

// ResponseTopic returns the topic answering one request.
func ResponseTopic(requestID string) string { return topics.BridgeResponse(Protocol, requestID) }

// HealthTopic returns the bridge health topic.
// Example: graylogic/health/rio
func HealthTopic() string { return topics.BridgeHealth(Protocol) }

// CommandSubscribeTopic matches every command to the bridge.
func CommandSubscribeTopic() string { return topics.BridgeCommands(Protocol) }

// RequestSubscribeTopic matches every request to the bridge.
func RequestSubscribeTopic() string { return topics.BridgeRequests(Protocol) }
