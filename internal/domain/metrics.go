package domain

import "time"

// ProcessorMetrics is a point-in-time snapshot of a processor's counters.
type ProcessorMetrics struct {
	MessagesProcessed uint64        `json:"messages_processed"`
	ErrorCount        uint64        `json:"error_count"`
	TotalDuration     time.Duration `json:"total_duration"`
	AverageDuration   time.Duration `json:"average_duration"`
}

// NewProcessorMetrics builds a snapshot and derives the average duration.
func NewProcessorMetrics(processed, errs uint64, total time.Duration) ProcessorMetrics {
	return ProcessorMetrics{
		MessagesProcessed: processed,
		ErrorCount:        errs,
		TotalDuration:     total,
		AverageDuration:   average(total, processed),
	}
}

// PipelineMetrics is a point-in-time snapshot of a pipeline's outcome counters.
type PipelineMetrics struct {
	SuccessCount    uint64        `json:"success_count"`
	FailureCount    uint64        `json:"failure_count"`
	TotalProcessed  uint64        `json:"total_processed"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
}

// NewPipelineMetrics builds a snapshot and derives the total and average.
func NewPipelineMetrics(success, failure uint64, total time.Duration) PipelineMetrics {
	processed := success + failure
	return PipelineMetrics{
		SuccessCount:    success,
		FailureCount:    failure,
		TotalProcessed:  processed,
		TotalDuration:   total,
		AverageDuration: average(total, processed),
	}
}

// SuccessRate returns the fraction of successful outcomes, or 0 when nothing ran.
func (m PipelineMetrics) SuccessRate() float64 {
	if m.TotalProcessed == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(m.TotalProcessed)
}

func average(total time.Duration, n uint64) time.Duration {
	return total / time.Duration(max(n, 1))
}
