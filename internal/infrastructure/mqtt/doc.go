// Package mqtt provides MQTT connectivity for the RIO bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Panic-safe message handlers
//
// # Topics
//
// Bridge traffic uses graylogic/{category}/rio/{address}:
//
//	graylogic/command/rio/C[1].Z[2]    commands in
//	graylogic/ack/rio/C[1].Z[2]        acknowledgements out
//	graylogic/state/rio/C[1].Z[2]      retained variable state out
//	graylogic/request/rio/{request_id} requests in
//	graylogic/response/rio/{request_id} responses out
//	graylogic/health/rio               retained bridge health
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) outside a trusted LAN
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeStates("rio"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("%s: %s", topic, payload)
//	        return nil
//	    })
package mqtt
