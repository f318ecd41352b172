package model

import "strings"

// 团体状态
const (
	GroupUnapproved = "unapproved"
	GroupWaitlisted = "waitlisted"
	GroupApproved   = "approved"
	GroupDeclined   = "declined"
	GroupCancelled  = "cancelled"
)

type Group struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	IsDealer     bool    `json:"is_dealer"`
	Status       string  `json:"status"`
	AmountOwed   int     `json:"amount_owed"` // cents
	LeaderID     *string `json:"leader_id,omitempty"`
	TablesWanted float64 `json:"tables"`

	Leader    *Attendee   `json:"-"`
	Attendees []*Attendee `json:"-"`
}

func (g *Group) EntityType() string { return TypeGroup }
func (g *Group) EntityID() string { return g.ID }
func (g *Group) ContextName() string { return "group" }

// EmailAddress 优先使用 leader 的邮箱，否则取第一个有邮箱的成员
func (g *Group) EmailAddress() string {
	if g.Leader != nil {
		if e := strings.TrimSpace(g.Leader.Email); e != "" {
			return e
		}
	}
	for _, a := range g.Attendees {
		if e := strings.TrimSpace(a.Email); e != "" {
			return e
		}
	}
	return ""
}

// UnregisteredBadges 占位成员数量
func (g *Group) UnregisteredBadges() int {
	n := 0
	for _, a := range g.Attendees {
		if a.Placeholder {
			n++
		}
	}
	return n
}

func (g *Group) Fields() map[string]interface{} {
	return map[string]interface{}{
		"id":                  g.ID,
		"name":                g.Name,
		"is_dealer":           g.IsDealer,
		"status":              g.Status,
		"amount_owed":         int64(g.AmountOwed),
		"tables":              g.TablesWanted,
		"badges":              int64(len(g.Attendees)),
		"unregistered_badges": int64(g.UnregisteredBadges()),
		"email":               g.EmailAddress(),
	}
}
