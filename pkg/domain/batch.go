package domain

import "time"

// BatchRunStats aggregates the outcome of a single batch run.
// Created at batch start, finalized at batch end, immutable afterwards.
type BatchRunStats struct {
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Duplicates int       `json:"duplicates"`
	Errors     []string  `json:"errors,omitempty"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
}

// SuccessRate returns the share of processed articles persisted successfully
func (s BatchRunStats) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Processed)
}

// Duration returns the wall time of the run
func (s BatchRunStats) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}
