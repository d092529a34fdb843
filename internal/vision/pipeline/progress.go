package pipeline

// ProgressUpdate is a point-in-time snapshot of a job, handed to the
// configured Notify hook as the job advances. The same numbers land on
// the video row; the hook spares live watchers from polling it.
type ProgressUpdate struct {
	VideoID         string  `json:"video_id"`
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	FramesProcessed int     `json:"frames_processed"`
	UniqueGoats     int     `json:"unique_goats"`
	Error           string  `json:"error,omitempty"`
}

// publish hands a snapshot to the Notify hook, if any. Called from
// worker goroutines; the hook must not block.
func (p *Processor) publish(u ProgressUpdate) {
	if p.notify != nil {
		p.notify(u)
	}
}
