package domain

// Stats is a point-in-time aggregate over the product backlog.
type Stats struct {
	Total       int64                    `json:"total"`
	ByStatus    map[PipelineStatus]int64 `json:"by_status"`
	Idle        int64                    `json:"idle"`
	Processing  int64                    `json:"processing"`
	Done        int64                    `json:"done"`
	Error       int64                    `json:"error"`
	StageCounts map[Stage]int64          `json:"stage_counts"`
	SuccessRate float64                  `json:"success_rate"`
}

// NewStats builds a Stats value from per-status counts.
// success_rate is done / (done + error), or 0 when both are zero.
func NewStats(byStatus map[PipelineStatus]int64, stageCounts map[Stage]int64) *Stats {
	s := &Stats{
		ByStatus:    make(map[PipelineStatus]int64, len(AllPipelineStatuses)),
		StageCounts: make(map[Stage]int64, len(Stages)),
	}
	for _, status := range AllPipelineStatuses {
		s.ByStatus[status] = byStatus[status]
		s.Total += byStatus[status]
	}
	for _, stage := range Stages {
		s.StageCounts[stage] = stageCounts[stage]
	}
	s.Idle = s.ByStatus[PipelineStatusIdle]
	s.Processing = s.ByStatus[PipelineStatusProcessing]
	s.Done = s.ByStatus[PipelineStatusDone]
	s.Error = s.ByStatus[PipelineStatusError]
	s.SuccessRate = SuccessRate(s.Done, s.Error)
	return s
}

// SuccessRate returns done / (done + failed), or 0 when nothing has finished.
func SuccessRate(done, failed int64) float64 {
	if done+failed == 0 {
		return 0
	}
	return float64(done) / float64(done+failed)
}
