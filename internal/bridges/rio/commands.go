package rio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/mqtt"
	rioclient "github.com/nerrad567/gray-logic-rio/internal/rio"
)

// maxLevel is the top of the Gray Logic volume scale.
const maxLevel = 100

// zoneEvents maps parameterless zone commands to their RIO event and arguments.
var zoneEvents = map[string][]string{
	"on":          {"ZoneOn"},
	"off":         {"ZoneOff"},
	"mute":        {"ZoneMuteOn"},
	"unmute":      {"ZoneMuteOff"},
	"volume_up":   {"KeyPress", "VolumeUp"},
	"volume_down": {"KeyPress", "VolumeDown"},
	"play":        {"KeyPress", "Play"},
	"pause":       {"KeyPress", "Pause"},
	"stop":        {"KeyPress", "Stop"},
	"next":        {"KeyPress", "Next"},
	"previous":    {"KeyPress", "Previous"},
}

// handleMQTTMessage routes incoming MQTT messages by topic category.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 { //nolint:mnd // graylogic/{category}/rio/{id}
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(mqtt.LastSegment(topic), payload)
	case "request":
		b.handleRequest(mqtt.LastSegment(topic), payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand parses and executes a command received over MQTT.
func (b *Bridge) handleCommand(topicDevice string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err, "device", topicDevice)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicDevice
	}
	if cmd.Source == "" {
		cmd.Source = "mqtt"
	}

	if _, err := b.Execute(b.ctx, cmd); err != nil {
		b.logError("command execution failed", err,
			"command_id", cmd.ID,
			"device", cmd.DeviceID,
			"command", cmd.Command)
	}
}

// Execute validates and runs a command, publishing an "accepted" ack before
// sending and a "failed" or "timeout" ack on error.
//
// Parameters:
//   - ctx: Context for cancellation; a command timeout is applied on top
//   - cmd: Command to run; an empty ID is replaced by a UUID
//
// Returns:
//   - string: The controller reply value
//   - error: ErrNotConfigured, ErrInvalidCommand, ErrInvalidParameters or
//     the client error
func (b *Bridge) Execute(ctx context.Context, cmd CommandMessage) (string, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}

	select {
	case <-b.done:
		b.publishAckError(cmd, ErrCodeBridgeError, "bridge stopped")
		return "", ErrStopped
	default:
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device", cmd.DeviceID,
		"command", cmd.Command,
		"source", cmd.Source)

	dev, ok := b.devices[cmd.DeviceID]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNotConfigured, cmd.DeviceID)
		b.publishAckError(cmd, ErrCodeNotConfigured, err.Error())
		return "", err
	}

	send, err := b.translate(dev, cmd)
	if err != nil {
		b.publishAckError(cmd, errorCode(err), err.Error())
		return "", err
	}

	b.publishAck(NewAckMessage(cmd, AckAccepted))

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	reply, err := send(cmdCtx)
	if err != nil {
		b.publishAckError(cmd, errorCode(err), err.Error())
		return "", err
	}
	return reply, nil
}

type sendFunc func(ctx context.Context) (string, error)

// translate maps a command onto a client call without sending it.
func (b *Bridge) translate(dev DeviceInfo, cmd CommandMessage) (sendFunc, error) {
	id := dev.ID

	switch cmd.Command {
	case "set":
		key, err := stringParam(cmd.Parameters, "key")
		if err != nil {
			return nil, err
		}
		value, err := stringParam(cmd.Parameters, "value")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (string, error) {
			return b.conn.SetVariable(ctx, id, key, value)
		}, nil

	case "raw":
		text, err := stringParam(cmd.Parameters, "text")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (string, error) {
			return b.conn.SendCommand(ctx, text)
		}, nil
	}

	if dev.Kind != KindZone {
		return nil, fmt.Errorf("%w: %q applies to zones only", ErrInvalidCommand, cmd.Command)
	}

	switch cmd.Command {
	case "volume":
		level, err := numberParam(cmd.Parameters, "level", 0, maxLevel)
		if err != nil {
			return nil, err
		}
		v := strconv.Itoa(ScaleVolume(level))
		return func(ctx context.Context) (string, error) {
			return b.conn.SendEvent(ctx, id, "KeyPress", "Volume", v)
		}, nil

	case "select_source":
		n, err := numberParam(cmd.Parameters, "source", 1, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		s := strconv.Itoa(int(n))
		return func(ctx context.Context) (string, error) {
			return b.conn.SendEvent(ctx, id, "SelectSource", s)
		}, nil
	}

	event, ok := zoneEvents[cmd.Command]
	if !ok {
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, cmd.Command)
	}
	return func(ctx context.Context) (string, error) {
		return b.conn.SendEvent(ctx, id, event[0], event[1:]...)
	}, nil
}

// ScaleVolume maps a 0-100 level onto the zone's 0-MaxVolume scale.
func ScaleVolume(level float64) int {
	return int(math.Round(level * rioclient.MaxVolume / maxLevel))
}

func stringParam(params map[string]any, name string) (string, error) {
	raw, ok := params[name]
	if !ok {
		return "", fmt.Errorf("%w: missing %q parameter", ErrInvalidParameters, name)
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("%w: %q must not be empty", ErrInvalidParameters, name)
		}
		if strings.ContainsAny(v, "\r\n") {
			return "", fmt.Errorf("%w: %q must not contain line breaks", ErrInvalidParameters, name)
		}
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("%w: %q must be a string", ErrInvalidParameters, name)
	}
}

func numberParam(params map[string]any, name string, lo, hi float64) (float64, error) {
	raw, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q parameter", ErrInvalidParameters, name)
	}

	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q must be a number", ErrInvalidParameters, name)
		}
		n = f
	default:
		return 0, fmt.Errorf("%w: %q must be a number", ErrInvalidParameters, name)
	}

	if n < lo || n > hi {
		return 0, fmt.Errorf("%w: %q must be %g-%g, got %g", ErrInvalidParameters, name, lo, hi, n)
	}
	return n, nil
}

// errorCode maps an execution error onto an ack/response code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrInvalidCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, rioclient.ErrInvalidCommand):
		return ErrCodeInvalidParameters
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, rioclient.ErrCommandRejected):
		return ErrCodeProtocolError
	case errors.Is(err, rioclient.ErrNotConnected),
		errors.Is(err, rioclient.ErrConnectionLost),
		errors.Is(err, rioclient.ErrCancelled),
		errors.Is(err, rioclient.ErrClosed):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	b.publishJSON(AckTopic(ack.DeviceID), ack, false)
}

func (b *Bridge) publishAckError(cmd CommandMessage, code, message string) {
	b.publishAck(NewAckError(cmd, code, message))
	b.logWarn("command failed",
		"command_id", cmd.ID,
		"device", cmd.DeviceID,
		"code", code,
		"message", message)
}

// handleRequest answers a request received over MQTT.
func (b *Bridge) handleRequest(topicID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err, "request_id", topicID)
		return
	}
	if req.RequestID == "" {
		req.RequestID = topicID
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action,
		"device", req.DeviceID)

	resp := b.HandleRequest(b.ctx, req)
	b.publishJSON(ResponseTopic(req.RequestID), resp, false)
}

// HandleRequest runs one request action and builds its response.
func (b *Bridge) HandleRequest(ctx context.Context, req RequestMessage) ResponseMessage {
	switch req.Action {
	case "list_devices":
		return successResponse(req, map[string]any{"devices": b.Devices()})
	case "read_state":
		return b.handleReadState(req)
	case "get":
		return b.handleGet(ctx, req)
	default:
		return errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}
}

// handleReadState returns the cached variables of one device.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return errorResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}
	dev, ok := b.devices[req.DeviceID]
	if !ok {
		return errorResponse(req, ErrCodeNotConfigured, fmt.Sprintf("device %s not configured", req.DeviceID))
	}

	return successResponse(req, map[string]any{
		"device_id": dev.ID,
		"kind":      dev.Kind,
		"name":      dev.Name,
		"state":     b.conn.Snapshot(dev.ID),
		"connected": b.conn.IsConnected(),
	})
}

// handleGet reads one variable, from the cache when present.
func (b *Bridge) handleGet(ctx context.Context, req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return errorResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}
	key, err := stringParam(req.Parameters, "key")
	if err != nil {
		return errorResponse(req, ErrCodeInvalidParameters, err.Error())
	}

	getCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	value, err := b.conn.GetVariable(getCtx, req.DeviceID, key)
	if err != nil {
		return errorResponse(req, errorCode(err), err.Error())
	}

	return successResponse(req, map[string]any{
		"device_id": req.DeviceID,
		"key":       key,
		"value":     value,
	})
}

func successResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// publishJSON marshals v and publishes it at QoS 1.
func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal message", err, "topic", topic)
		return
	}
	if err := b.mqtt.Publish(topic, payload, mqttQoS, retained); err != nil {
		b.logError("failed to publish", err, "topic", topic)
	}
}
