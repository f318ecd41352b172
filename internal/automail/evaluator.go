package automail

import (
	"fmt"
	"time"

	"ubersystem/internal/model"
)

// Outcome 评估结果
type Outcome int

const (
	OutcomeSkip Outcome = iota
	OutcomeSend
	// OutcomeUnapproved 除审批外所有检查都通过
	OutcomeUnapproved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSend:
		return "send"
	case OutcomeUnapproved:
		return "unapproved"
	default:
		return "skip"
	}
}

// Snapshot run 开始时固定下来的外部状态
type Snapshot struct {
	Phase    Phase
	Now      time.Time
	Approved map[string]bool
}

// Evaluator 对一对 (category, entity) 判断是否发送。检查按顺序短路：
// 活动阶段、实体类型、邮箱、是否已发送、过滤器与日期规则、审批。
type Evaluator struct {
	snap Snapshot
	sent SentIndex
}

func NewEvaluator(snap Snapshot, sent SentIndex) *Evaluator {
	if sent == nil {
		sent = make(SentIndex)
	}
	return &Evaluator{snap: snap, sent: sent}
}

// MarkSent 本次 run 中发送成功后加入已发送集合
func (ev *Evaluator) MarkSent(key SentKey) { ev.sent.Add(key) }

// Evaluate 过滤器出错或 panic 时返回 OutcomeSkip 和 *EvaluationError
func (ev *Evaluator) Evaluate(c *Category, e model.Entity) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeSkip
			err = ev.evalErr(c, e, fmt.Errorf("panic: %v", r))
		}
	}()

	if ev.snap.Phase.AtTheCon && !c.AllowDuringCon {
		return OutcomeSkip, nil
	}
	if e.EntityType() != c.EntityType {
		return OutcomeSkip, nil
	}
	if e.EmailAddress() == "" {
		return OutcomeSkip, nil
	}
	if ev.sent.Has(KeyFor(c, e)) {
		return OutcomeSkip, nil
	}

	ok, err := ev.eligible(c, e)
	if err != nil {
		return OutcomeSkip, ev.evalErr(c, e, err)
	}
	if !ok {
		return OutcomeSkip, nil
	}

	if c.NeedsApproval && !ev.snap.Approved[c.Ident] {
		return OutcomeUnapproved, nil
	}
	return OutcomeSend, nil
}

// eligible 过滤器、前后阶段标记、全部日期规则
func (ev *Evaluator) eligible(c *Category, e model.Entity) (bool, error) {
	if c.PostCon != ev.snap.Phase.PostCon {
		return false, nil
	}
	ok, err := c.Filter.Match(e)
	if err != nil || !ok {
		return false, err
	}
	for _, rule := range c.When {
		if !rule.Active(ev.snap.Now) {
			return false, nil
		}
	}
	return true, nil
}

// Subject 计算标题，SubjectFunc panic 时返回 *EvaluationError
func (ev *Evaluator) Subject(c *Category, e model.Entity) (subject string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ev.evalErr(c, e, fmt.Errorf("subject panic: %v", r))
		}
	}()
	return c.ComputedSubject(e), nil
}

func (ev *Evaluator) evalErr(c *Category, e model.Entity, err error) *EvaluationError {
	return &EvaluationError{Ident: c.Ident, EntityType: e.EntityType(), EntityID: e.EntityID(), Err: err}
}

// KeyFor 幂等键
func KeyFor(c *Category, e model.Entity) SentKey {
	return SentKey{EntityType: e.EntityType(), EntityID: e.EntityID(), Ident: c.Ident}
}
