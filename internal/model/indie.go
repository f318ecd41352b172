package model

import "strings"

// 独立游戏状态
const (
	GameNew        = "new"
	GameAccepted   = "accepted"
	GameDeclined   = "declined"
	GameWaitlisted = "waitlisted"
	GameCancelled  = "cancelled"
)

type IndieGame struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Studio       string `json:"studio"`
	ContactEmail string `json:"contact_email"`
	Status       string `json:"status"`
	Submitted    bool   `json:"submitted"`
}

func (g *IndieGame) EntityType() string { return TypeIndieGame }
func (g *IndieGame) EntityID() string { return g.ID }
func (g *IndieGame) EmailAddress() string { return strings.TrimSpace(g.ContactEmail) }
func (g *IndieGame) ContextName() string { return "game" }

func (g *IndieGame) Fields() map[string]interface{} {
	return map[string]interface{}{
		"id":        g.ID,
		"title":     g.Title,
		"studio":    g.Studio,
		"email":     g.ContactEmail,
		"status":    g.Status,
		"submitted": g.Submitted,
	}
}
