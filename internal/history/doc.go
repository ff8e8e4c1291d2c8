// Package history stores an audit trail of RIO variable changes and
// controller connection transitions in SQLite.
//
// Rows are written by the bridge worker and read by the HTTP API. The
// variable cache is never rebuilt from history; a restarted bridge starts
// with an empty cache and repopulates it from the controller.
//
// Timestamps are stored as UTC unix milliseconds.
package history
