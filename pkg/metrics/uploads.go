package metrics

// UploadMetrics provides observability for the upload queue and the
// bandwidth governor.
//
// Pass nil to disable metrics collection with zero overhead.
type UploadMetrics interface {
	// SetSlotsInUse sets the per-group used-slot gauge.
	SetSlotsInUse(group string, n int)

	// SetQueueDepth sets the per-group waiting-entry gauge.
	SetQueueDepth(group string, n int)

	// RecordGrantedBytes counts bytes granted to uploads by group.
	RecordGrantedBytes(group string, n int64)
}
