package model

import "strings"

// 讲座申请状态
const (
	PanelPending   = "pending"
	PanelAccepted  = "accepted"
	PanelDeclined  = "declined"
	PanelWaitlist  = "waitlisted"
	PanelCancelled = "cancelled"
)

type PanelApplication struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	SubmitterEmail string `json:"submitter_email"`
	Status         string `json:"status"`
	Confirmed      bool   `json:"confirmed"`
	Length         int    `json:"length"` // minutes
}

func (p *PanelApplication) EntityType() string { return TypePanelApplication }
func (p *PanelApplication) EntityID() string { return p.ID }
func (p *PanelApplication) EmailAddress() string { return strings.TrimSpace(p.SubmitterEmail) }
func (p *PanelApplication) ContextName() string { return "app" }

func (p *PanelApplication) Fields() map[string]interface{} {
	return map[string]interface{}{
		"id":        p.ID,
		"name":      p.Name,
		"email":     p.SubmitterEmail,
		"status":    p.Status,
		"confirmed": p.Confirmed,
		"length":    int64(p.Length),
	}
}
