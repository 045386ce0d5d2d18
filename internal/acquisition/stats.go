package acquisition

// Stats are cumulative counters of one engine
type Stats struct {
	Submitted       uint64 `json:"submitted"`
	SubmitErrors    uint64 `json:"submit_errors"`
	Completed       uint64 `json:"completed"`
	ImagesReady     uint64 `json:"images_ready"`
	Skipped         uint64 `json:"skipped"`
	Failed          uint64 `json:"failed"`
	Timeouts        uint64 `json:"timeouts"`
	Cancelled       uint64 `json:"cancelled"`
	Unlocked        uint64 `json:"unlocked"`
	UnlockErrors    uint64 `json:"unlock_errors"`
	StaleCompletion uint64 `json:"stale_completions"`
	LiveStarts      uint64 `json:"live_starts"`
	LiveAborts      uint64 `json:"live_aborts"`
	SequencesReady  uint64 `json:"sequences_ready"`
	DisplayEvicted  uint64 `json:"display_evicted"`
	RecordEvicted   uint64 `json:"record_evicted"`
	EventsDropped   uint64 `json:"events_dropped"`

	// Gauges at snapshot time
	InFlight int `json:"in_flight"`
	Held     int `json:"held"`
}
