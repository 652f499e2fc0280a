package metrics

// ServerMetrics provides observability for the server connection watchdog.
//
// Pass nil to disable metrics collection with zero overhead.
type ServerMetrics interface {
	// RecordConnectAttempt counts one connect attempt by outcome
	// ("success", "failure", "cancelled").
	RecordConnectAttempt(outcome string)

	// SetConnected sets the connected gauge (1 connected, 0 not).
	SetConnected(connected bool)
}
