// Package rio implements the Russound RIO bridge for Gray Logic.
//
// The bridge sits between the MQTT bus and one RIO controller connection
// (package internal/rio). It publishes zone and source state, executes
// commands, answers requests and reports its own health.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Gray Logic    │   MQTT   │   RIO Bridge    │   TCP 9621
//	│      Core       │◄────────►│   (this pkg)    │◄────────► Controller
//	└─────────────────┘          └─────────────────┘
//	                                     │
//	                             InfluxDB, SQLite
//
// # Data Flow
//
// Controller pushes arrive as client callbacks on the session goroutine.
// The callbacks only enqueue; a single worker drains the bounded queue and
// does the slow work (MQTT publish, InfluxDB point, SQLite history row,
// listener fan-out). When the queue is full the update is dropped and
// counted.
//
// # Topics
//
//	graylogic/command/rio/{device}      Core → Bridge  CommandMessage
//	graylogic/ack/rio/{device}          Bridge → Core  AckMessage
//	graylogic/state/rio/{device}        Bridge → Core  StateMessage (retained)
//	graylogic/request/rio/{request_id}  Core → Bridge  RequestMessage
//	graylogic/response/rio/{request_id} Bridge → Core  ResponseMessage
//	graylogic/health/rio                Bridge → Core  HealthMessage (retained)
//
// Device ids are RIO addresses such as "C[1].Z[2]" and "S[3]".
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package rio
