package repository

import (
	"context"

	"ubersystem/internal/model"
	"ubersystem/pkg/otel"
)

// GroupSource 加载所有团体，并批量预加载成员和 leader
type GroupSource struct {
	db DB
}

func NewGroupSource(db DB) *GroupSource {
	return &GroupSource{db: db}
}

func (s *GroupSource) EntityType() string { return model.TypeGroup }

const groupColumns = `g.id::text, g.name, g.is_dealer, g.status, g.amount_owed, g.leader_id::text, g.tables`

const allGroupsQuery = `SELECT ` + groupColumns + ` FROM "group" g ORDER BY g.name, g.id`

const groupByIDsQuery = `SELECT ` + groupColumns + ` FROM "group" g WHERE g.id::text = ANY($1)`

const groupMembersQuery = `
	SELECT a.id::text, a.group_id::text, a.first_name, a.last_name, a.email, a.paid, a.badge_type,
	       a.staffing, a.placeholder
	FROM attendee a
	WHERE a.group_id::text = ANY($1)
	ORDER BY a.registered, a.id`

func queryGroups(ctx context.Context, db DB, query string, args ...any) ([]*model.Group, error) {
	var out []*model.Group
	err := otel.WithDBSpan(ctx, "SELECT", query, func(ctx context.Context) error {
		rows, err := db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var g model.Group
			if err := rows.Scan(&g.ID, &g.Name, &g.IsDealer, &g.Status, &g.AmountOwed, &g.LeaderID, &g.TablesWanted); err != nil {
				return err
			}
			out = append(out, &g)
		}
		return rows.Err()
	})
	return out, err
}

func (s *GroupSource) Load(ctx context.Context) ([]model.Entity, error) {
	groups, err := queryGroups(ctx, s.db, allGroupsQuery)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}

	byID := make(map[string]*model.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	groupIDs := ids(groups, func(g *model.Group) string { return g.ID })

	err = otel.WithDBSpan(ctx, "SELECT", groupMembersQuery, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, groupMembersQuery, groupIDs)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var a model.Attendee
			var groupID string
			if err := rows.Scan(&a.ID, &groupID, &a.FirstName, &a.LastName, &a.Email, &a.PaidStatus,
				&a.BadgeType, &a.Staffing, &a.Placeholder); err != nil {
				return err
			}
			if g, ok := byID[groupID]; ok {
				a.GroupID = &g.ID
				a.Group = g
				g.Attendees = append(g.Attendees, &a)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Entity, 0, len(groups))
	for _, g := range groups {
		attachLeader(g)
		out = append(out, g)
	}
	return out, nil
}

func attachLeader(g *model.Group) {
	if g.LeaderID == nil {
		return
	}
	for _, a := range g.Attendees {
		if a.ID == *g.LeaderID {
			g.Leader = a
			return
		}
	}
}
