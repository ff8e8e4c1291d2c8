package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	// MeasurementVariable holds one point per controller variable change.
	MeasurementVariable = "rio_variable"

	// MeasurementConnection holds one point per connection state change.
	MeasurementConnection = "rio_connection"
)

// VariableSample is one observed controller variable value.
type VariableSample struct {
	// DeviceID is the canonical id, e.g. "C[1].Z[2]" or "S[3]".
	DeviceID string

	// Kind is "zone", "source", "controller" or "system".
	Kind string

	// Variable is the lower-cased variable name.
	Variable string

	// Value is the raw string value.
	Value string

	// Time is when the value was observed. Zero means now.
	Time time.Time
}

// WriteVariable records a variable change.
//
// Numeric values (volume, bass, currentsource) are written to the float
// field "value" so they can be graphed; everything else goes to the string
// field "text". The write is non-blocking and batched.
func (c *Client) WriteVariable(sample VariableSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(variablePoint(sample))
}

// variablePoint converts a sample to a line-protocol point.
func variablePoint(sample VariableSample) *write.Point {
	ts := sample.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := make(map[string]interface{}, 1)
	if f, err := strconv.ParseFloat(sample.Value, 64); err == nil {
		fields["value"] = f
	} else {
		fields["text"] = sample.Value
	}

	return write.NewPoint(
		MeasurementVariable,
		map[string]string{
			"device_id": sample.DeviceID,
			"kind":      sample.Kind,
			"variable":  sample.Variable,
		},
		fields,
		ts,
	)
}

// WriteConnection records a controller connection state change.
func (c *Client) WriteConnection(address string, connected bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(connectionPoint(address, connected, time.Now()))
}

func connectionPoint(address string, connected bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementConnection,
		map[string]string{"address": address},
		map[string]interface{}{"connected": connected},
		ts,
	)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("bridge_stats",
//	    map[string]string{"bridge": "rio-bridge-01"},
//	    map[string]interface{}{"commands_tx": 120, "events_rx": 431})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
