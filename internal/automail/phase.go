package automail

import "time"

// Phase 活动阶段
type Phase struct {
	AtTheCon bool
	PostCon  bool
}

// PhaseSource 根据当前时间给出活动阶段
type PhaseSource interface {
	Phase(now time.Time) Phase
}

// EventClock 由活动起止时间推算阶段，AtTheCon / PostCon 不为 nil 时强制覆盖
type EventClock struct {
	Epoch    time.Time
	Eschaton time.Time
	AtTheCon *bool
	PostCon  *bool
}

func (c EventClock) Phase(now time.Time) Phase {
	p := Phase{
		AtTheCon: !c.Epoch.IsZero() && !now.Before(c.Epoch) && (c.Eschaton.IsZero() || now.Before(c.Eschaton)),
		PostCon:  !c.Eschaton.IsZero() && !now.Before(c.Eschaton),
	}
	if c.AtTheCon != nil {
		p.AtTheCon = *c.AtTheCon
	}
	if c.PostCon != nil {
		p.PostCon = *c.PostCon
	}
	return p
}

// FixedPhase 固定阶段，测试用
type FixedPhase Phase

func (f FixedPhase) Phase(time.Time) Phase { return Phase(f) }
