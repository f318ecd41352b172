package repository

import (
	"context"
	"time"

	"ubersystem/internal/model"
	"ubersystem/pkg/otel"
)

// AttendeeSource 加载所有有邮箱的参会者，并批量预加载排班、部门和 checklist
type AttendeeSource struct {
	db DB
}

func NewAttendeeSource(db DB) *AttendeeSource {
	return &AttendeeSource{db: db}
}

func (s *AttendeeSource) EntityType() string { return model.TypeAttendee }

func (s *AttendeeSource) Load(ctx context.Context) ([]model.Entity, error) {
	attendees, err := s.loadAttendees(ctx)
	if err != nil {
		return nil, err
	}
	if len(attendees) == 0 {
		return nil, nil
	}

	byID := make(map[string]*model.Attendee, len(attendees))
	for _, a := range attendees {
		byID[a.ID] = a
	}
	attendeeIDs := ids(attendees, func(a *model.Attendee) string { return a.ID })

	if err := s.loadShifts(ctx, attendeeIDs, byID); err != nil {
		return nil, err
	}
	if err := s.loadDepartments(ctx, attendeeIDs, byID); err != nil {
		return nil, err
	}
	if err := s.loadGroups(ctx, attendees); err != nil {
		return nil, err
	}

	out := make([]model.Entity, 0, len(attendees))
	for _, a := range attendees {
		out = append(out, a)
	}
	return out, nil
}

const attendeeQuery = `
	SELECT a.id::text, a.first_name, a.last_name, a.email, a.paid, a.badge_type,
	       a.staffing, a.placeholder, a.registered, a.group_id::text,
	       EXISTS (SELECT 1 FROM admin_account aa WHERE aa.attendee_id = a.id)
	FROM attendee a
	WHERE a.email <> ''
	ORDER BY a.registered, a.id`

func (s *AttendeeSource) loadAttendees(ctx context.Context) ([]*model.Attendee, error) {
	var out []*model.Attendee
	err := otel.WithDBSpan(ctx, "SELECT", attendeeQuery, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, attendeeQuery)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var a model.Attendee
			var registered *time.Time
			if err := rows.Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.PaidStatus, &a.BadgeType,
				&a.Staffing, &a.Placeholder, &registered, &a.GroupID, &a.AdminAccount); err != nil {
				return err
			}
			if registered != nil {
				a.RegisteredAt = *registered
			}
			out = append(out, &a)
		}
		return rows.Err()
	})
	return out, err
}

const shiftsQuery = `
	SELECT s.id::text, s.attendee_id::text, j.id::text, j.name, j.start_time, j.duration, COALESCE(d.name, '')
	FROM shift s
	JOIN job j ON j.id = s.job_id
	LEFT JOIN department d ON d.id = j.department_id
	WHERE s.attendee_id::text = ANY($1)
	ORDER BY j.start_time`

func (s *AttendeeSource) loadShifts(ctx context.Context, attendeeIDs []string, byID map[string]*model.Attendee) error {
	return otel.WithDBSpan(ctx, "SELECT", shiftsQuery, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, shiftsQuery, attendeeIDs)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var sh model.Shift
			var attendeeID string
			if err := rows.Scan(&sh.ID, &attendeeID, &sh.Job.ID, &sh.Job.Name, &sh.Job.StartTime,
				&sh.Job.Duration, &sh.Job.Department); err != nil {
				return err
			}
			sh.JobID = sh.Job.ID
			if a, ok := byID[attendeeID]; ok {
				a.Shifts = append(a.Shifts, sh)
			}
		}
		return rows.Err()
	})
}

const departmentsQuery = `
	SELECT m.attendee_id::text, d.id::text, d.name, m.is_checklist_admin,
	       COALESCE(ARRAY(
	           SELECT ci.slug FROM dept_checklist_item ci
	           WHERE ci.department_id = d.id AND ci.completed
	       ), '{}')
	FROM dept_membership m
	JOIN department d ON d.id = m.department_id
	WHERE m.attendee_id::text = ANY($1)
	ORDER BY d.name`

func (s *AttendeeSource) loadDepartments(ctx context.Context, attendeeIDs []string, byID map[string]*model.Attendee) error {
	return otel.WithDBSpan(ctx, "SELECT", departmentsQuery, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, departmentsQuery, attendeeIDs)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var attendeeID string
			var d model.Department
			var checklistAdmin bool
			if err := rows.Scan(&attendeeID, &d.ID, &d.Name, &checklistAdmin, &d.CompletedChecklist); err != nil {
				return err
			}
			a, ok := byID[attendeeID]
			if !ok {
				continue
			}
			a.AssignedDepts = append(a.AssignedDepts, d)
			if checklistAdmin {
				a.ChecklistAdminDepts = append(a.ChecklistAdminDepts, d)
			}
		}
		return rows.Err()
	})
}

// loadGroups 只加载参会者所属团体的基础字段，不再递归加载成员
func (s *AttendeeSource) loadGroups(ctx context.Context, attendees []*model.Attendee) error {
	var groupIDs []string
	for _, a := range attendees {
		if a.GroupID != nil {
			groupIDs = append(groupIDs, *a.GroupID)
		}
	}
	if len(groupIDs) == 0 {
		return nil
	}

	groups, err := queryGroups(ctx, s.db, groupByIDsQuery, groupIDs)
	if err != nil {
		return err
	}
	byID := make(map[string]*model.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	for _, a := range attendees {
		if a.GroupID != nil {
			a.Group = byID[*a.GroupID]
		}
	}
	return nil
}
