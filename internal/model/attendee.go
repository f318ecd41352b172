package model

import (
	"strings"
	"time"
)

// 付款状态
const (
	PaidNotYet        = "not_paid"
	PaidHasPaid       = "has_paid"
	PaidByGroup       = "paid_by_group"
	PaidNeedNotPay    = "need_not_pay"
	PaidRefunded      = "refunded"
	PaidPendingCharge = "pending"
)

// 徽章类型
const (
	BadgeAttendee = "attendee"
	BadgeStaff    = "staff"
	BadgeGuest    = "guest"
	BadgeDealer   = "dealer"
)

type Attendee struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	PaidStatus   string    `json:"paid"`
	BadgeType    string    `json:"badge_type"`
	Staffing     bool      `json:"staffing"`
	Placeholder  bool      `json:"placeholder"`
	AdminAccount bool      `json:"admin_account"`
	RegisteredAt time.Time `json:"registered"`
	GroupID      *string   `json:"group_id,omitempty"`

	// 预加载的关联
	Group               *Group       `json:"-"`
	Shifts              []Shift      `json:"shifts,omitempty"`
	AssignedDepts       []Department `json:"assigned_depts,omitempty"`
	ChecklistAdminDepts []Department `json:"checklist_admin_depts,omitempty"`
}

type Shift struct {
	ID    string `json:"id"`
	JobID string `json:"job_id"`
	Job   Job    `json:"job"`
}

type Job struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Duration   int       `json:"duration"` // hours
	Department string    `json:"department"`
}

type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// 已完成的 checklist 条目 slug
	CompletedChecklist []string `json:"completed_checklist,omitempty"`
}

// ChecklistItemDone 该部门是否已完成 slug 对应的 checklist 条目
func (d Department) ChecklistItemDone(slug string) bool {
	for _, s := range d.CompletedChecklist {
		if s == slug {
			return true
		}
	}
	return false
}

func (a *Attendee) EntityType() string { return TypeAttendee }
func (a *Attendee) EntityID() string { return a.ID }
func (a *Attendee) EmailAddress() string { return strings.TrimSpace(a.Email) }
func (a *Attendee) ContextName() string { return "attendee" }

func (a *Attendee) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Paid 是否已付款（包括团体代付和无需付款）
func (a *Attendee) Paid() bool {
	switch a.PaidStatus {
	case PaidHasPaid, PaidByGroup, PaidNeedNotPay:
		return true
	}
	return false
}

// WeightedHours 排班总时长
func (a *Attendee) WeightedHours() int {
	total := 0
	for _, s := range a.Shifts {
		total += s.Job.Duration
	}
	return total
}

func (a *Attendee) Fields() map[string]interface{} {
	depts := make([]interface{}, 0, len(a.AssignedDepts))
	for _, d := range a.AssignedDepts {
		depts = append(depts, d.Name)
	}
	f := map[string]interface{}{
		"id":             a.ID,
		"first_name":     a.FirstName,
		"last_name":      a.LastName,
		"full_name":      a.FullName(),
		"email":          a.Email,
		"paid":           a.PaidStatus,
		"is_paid":        a.Paid(),
		"badge_type":     a.BadgeType,
		"staffing":       a.Staffing,
		"placeholder":    a.Placeholder,
		"admin_account":  a.AdminAccount,
		"shift_count":    int64(len(a.Shifts)),
		"weighted_hours": int64(a.WeightedHours()),
		"assigned_depts": depts,
		"in_group":       a.GroupID != nil,
	}
	if !a.RegisteredAt.IsZero() {
		f["registered"] = a.RegisteredAt.Format(time.RFC3339)
	}
	return f
}
