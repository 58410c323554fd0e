package models

// LoadProgress reports bulk fetch progress for one stream of a job
type LoadProgress struct {
	JobID   string     `json:"jobId"`
	Stream  StreamKind `json:"stream"`
	Fetched int        `json:"fetched"`
	Total   int        `json:"total"`
}

// Percent returns progress in the range 0-100. An empty stream is complete.
func (p LoadProgress) Percent() int {
	if p.Total <= 0 {
		return 100
	}
	pct := p.Fetched * 100 / p.Total
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Done reports whether every entry of the stream has been fetched
func (p LoadProgress) Done() bool {
	return p.Fetched >= p.Total
}

// Payload renders the progress as an event payload
func (p LoadProgress) Payload() map[string]interface{} {
	return map[string]interface{}{
		"job_id":   p.JobID,
		"stream":   string(p.Stream),
		"progress": p.Percent(),
		"fetched":  p.Fetched,
		"total":    p.Total,
	}
}
