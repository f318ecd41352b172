package repository

import (
	"context"

	"ubersystem/internal/model"
	"ubersystem/pkg/otel"
)

// RoomSource 只加载有入住者的房间
type RoomSource struct {
	db DB
}

func NewRoomSource(db DB) *RoomSource {
	return &RoomSource{db: db}
}

func (s *RoomSource) EntityType() string { return model.TypeRoom }

const roomsQuery = `
	SELECT r.id::text, r.notes, r.nights, r.locked_in
	FROM room r
	WHERE EXISTS (SELECT 1 FROM room_assignment ra WHERE ra.room_id = r.id)
	ORDER BY r.id`

const roomAssignmentsQuery = `
	SELECT ra.id::text, ra.room_id::text, a.id::text, a.first_name, a.last_name, a.email
	FROM room_assignment ra
	JOIN attendee a ON a.id = ra.attendee_id
	WHERE ra.room_id::text = ANY($1)
	ORDER BY ra.room_id, ra.id`

func (s *RoomSource) Load(ctx context.Context) ([]model.Entity, error) {
	var rooms []*model.Room
	err := otel.WithDBSpan(ctx, "SELECT", roomsQuery, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, roomsQuery)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var r model.Room
			if err := rows.Scan(&r.ID, &r.Notes, &r.Nights, &r.Locked); err != nil {
				return err
			}
			rooms = append(rooms, &r)
		}
		return rows.Err()
	})
	if err != nil || len(rooms) == 0 {
		return nil, err
	}

	byID := make(map[string]*model.Room, len(rooms))
	for _, r := range rooms {
		byID[r.ID] = r
	}

	err = otel.WithDBSpan(ctx, "SELECT", roomAssignmentsQuery, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, roomAssignmentsQuery, ids(rooms, func(r *model.Room) string { return r.ID }))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var ra model.RoomAssignment
			var roomID string
			a := &model.Attendee{}
			if err := rows.Scan(&ra.ID, &roomID, &a.ID, &a.FirstName, &a.LastName, &a.Email); err != nil {
				return err
			}
			ra.AttendeeID = a.ID
			ra.Attendee = a
			if r, ok := byID[roomID]; ok {
				r.Assignments = append(r.Assignments, ra)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Entity, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r)
	}
	return out, nil
}
