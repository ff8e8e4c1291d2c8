// Package influxdb provides InfluxDB connectivity for the RIO bridge.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched variable writes and health monitoring.
//
// # Purpose
//
// Every variable change the controller pushes (volume, source selection,
// now-playing metadata) becomes one rio_variable point tagged with the
// device id, device kind and variable name. Numeric values land in the
// float field "value", everything else in the string field "text".
// Connection transitions are written to rio_connection.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteVariable(influxdb.VariableSample{
//	    DeviceID: "C[1].Z[2]", Kind: "zone", Variable: "volume", Value: "20",
//	})
//
// # Error Handling
//
// Writes are non-blocking; batch errors are delivered to the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
