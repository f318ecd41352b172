package model

import "strings"

type Room struct {
	ID     string   `json:"id"`
	Notes  string   `json:"notes"`
	Nights []string `json:"nights"`
	Locked bool     `json:"locked_in"`

	Assignments []RoomAssignment `json:"assignments"`
}

type RoomAssignment struct {
	ID         string    `json:"id"`
	AttendeeID string    `json:"attendee_id"`
	Attendee   *Attendee `json:"-"`
}

func (r *Room) EntityType() string { return TypeRoom }
func (r *Room) EntityID() string { return r.ID }
func (r *Room) ContextName() string { return "room" }

// EmailAddress 房间的联系邮箱是第一个入住者的邮箱
func (r *Room) EmailAddress() string {
	for _, ra := range r.Assignments {
		if ra.Attendee != nil {
			if e := strings.TrimSpace(ra.Attendee.Email); e != "" {
				return e
			}
		}
	}
	return ""
}

// Emails 所有入住者的邮箱
func (r *Room) Emails() []string {
	var out []string
	for _, ra := range r.Assignments {
		if ra.Attendee != nil && strings.TrimSpace(ra.Attendee.Email) != "" {
			out = append(out, strings.TrimSpace(ra.Attendee.Email))
		}
	}
	return out
}

func (r *Room) Fields() map[string]interface{} {
	nights := make([]interface{}, 0, len(r.Nights))
	for _, n := range r.Nights {
		nights = append(nights, n)
	}
	return map[string]interface{}{
		"id":        r.ID,
		"notes":     r.Notes,
		"nights":    nights,
		"locked_in": r.Locked,
		"occupants": int64(len(r.Assignments)),
		"email":     r.EmailAddress(),
	}
}
