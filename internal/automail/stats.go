package automail

import (
	"context"
	"time"
)

// RunState dispatch run 的状态
type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

func (s RunState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseRunState 未知的值按 idle 处理
func ParseRunState(s string) RunState {
	switch s {
	case "running":
		return StateRunning
	case "completed":
		return StateCompleted
	case "aborted":
		return StateAborted
	}
	return StateIdle
}

// CategoryResult 单个分类在一次 run 中的计数
type CategoryResult struct {
	Ident                   string `json:"ident"`
	Sent                    int    `json:"sent"`
	Failed                  int    `json:"failed"`
	Errored                 int    `json:"errored"`
	UnsentBecauseUnapproved int    `json:"unsent_because_unapproved"`
}

// RunStats 一次 run 的统计。run 结束时整体发布，发布后不再修改。
type RunStats struct {
	RunID      string                     `json:"run_id"`
	State      RunState                   `json:"state"`
	Running    bool                       `json:"running"`
	Completed  bool                       `json:"completed"`
	Reason     string                     `json:"reason,omitempty"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Entities   map[string]int             `json:"entities"`
	Results    map[string]*CategoryResult `json:"results"`
}

func newRunStats(runID string, start time.Time) *RunStats {
	return &RunStats{
		RunID:     runID,
		State:     StateRunning,
		Running:   true,
		StartedAt: start,
		Entities:  make(map[string]int),
		Results:   make(map[string]*CategoryResult),
	}
}

func (s *RunStats) result(ident string) *CategoryResult {
	r, ok := s.Results[ident]
	if !ok {
		r = &CategoryResult{Ident: ident}
		s.Results[ident] = r
	}
	return r
}

// UnsentBecauseUnapproved 因未审批而没有发送的数量
func (s *RunStats) UnsentBecauseUnapproved(ident string) int {
	if r, ok := s.Results[ident]; ok {
		return r.UnsentBecauseUnapproved
	}
	return 0
}

// TotalSent 本次 run 发送总数
func (s *RunStats) TotalSent() int {
	n := 0
	for _, r := range s.Results {
		n += r.Sent
	}
	return n
}

func (s *RunStats) finish(state RunState, reason string, at time.Time) {
	s.State = state
	s.Running = false
	s.Completed = state == StateCompleted
	s.Reason = reason
	s.FinishedAt = at
}

// StatsStore 持久化每次 run 的统计（可选）。保存失败视为持久化错误，run 标记为 aborted。
type StatsStore interface {
	SaveRunStats(ctx context.Context, stats *RunStats) error
	LoadLastRunStats(ctx context.Context) (*RunStats, error)
}
