package metrics

// SearchMetrics provides observability for the search service.
//
// Implementations must be safe for concurrent use. Pass nil to disable
// metrics collection with zero overhead.
type SearchMetrics interface {
	// RecordStarted increments the started-search counter and the
	// active-search gauge.
	RecordStarted()

	// RecordCompleted decrements the active-search gauge and counts the
	// completion by reason ("Completed", "Cancelled", "TimedOut", ...).
	RecordCompleted(reason string)

	// RecordResponses counts peer responses observed across all searches.
	RecordResponses(n int)
}
