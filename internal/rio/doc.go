// Package rio implements a client for the Russound RIO control protocol.
//
// RIO is a line-oriented text protocol spoken over TCP (port 9621) by
// Russound multi-zone audio controllers. One connection carries commands and
// replies for every controller, zone and source, interleaved with pushed
// state notifications.
//
// # Architecture
//
//	caller ──► command queue ──► session loop ──► Transport ──► controller
//	                                  │
//	                                  ▼
//	                          Cache ──► callbacks
//
// The session loop is the only goroutine that writes to the transport and
// stores into the cache. It has at most one command in flight: RIO replies
// carry no request id, so replies are matched to commands purely by order.
// Push lines that arrive before a reply are cached (firing callbacks) before
// the reply is delivered.
//
// The Client supervises sessions: it checks the controller's API version,
// replays the watch set, sends a keep-alive VERSION every 15 minutes and,
// when Reconnect is set, reconnects at a fixed interval after a failure.
//
// # Wire Format
//
//	→ GET C[1].Z[1].name
//	← N C[1].Z[1].volume="10"
//	← S C[1].Z[1].name="Living Room"
//	→ SET C[1].Z[1].volume="200"
//	← E Invalid argument
//
// Commands are terminated with a carriage return. Replies start with S
// (success) or E (error); any other tag is a notification.
//
// # Device Identifiers
//
//   - Controller: C[1]
//   - Zone: C[1].Z[2]
//   - Source: S[3]
//
// Callbacks registered on a zone also receive updates of the source the
// zone is currently tuned to.
//
// Example:
//
//	client := rio.New(rio.Config{Host: "192.168.1.50", Reconnect: true})
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	zone := client.Zone(1, 1)
//	zone.AddCallback(func(device, variable, value string) {
//	    log.Printf("%s.%s = %s", device, variable, value)
//	})
//	if err := zone.Watch(ctx); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package rio
