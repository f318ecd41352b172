package repository

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"ubersystem/internal/automail"
	"ubersystem/internal/model"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "uq_sent_emails_key"}
	assert.True(t, isUniqueViolation(dup))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", dup)))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "40001"}))
	assert.False(t, isUniqueViolation(nil))
}

func TestAttachLeader(t *testing.T) {
	leaderID := "a2"
	g := &model.Group{ID: "g1", LeaderID: &leaderID, Attendees: []*model.Attendee{
		{ID: "a1", Email: "member@example.com"},
		{ID: "a2", Email: "leader@example.com"},
	}}
	attachLeader(g)
	assert.Equal(t, "leader@example.com", g.EmailAddress())

	orphan := &model.Group{ID: "g2", Attendees: []*model.Attendee{{ID: "a3", Email: "first@example.com"}}}
	attachLeader(orphan)
	assert.Nil(t, orphan.Leader)
	assert.Equal(t, "first@example.com", orphan.EmailAddress())
}

func TestIDs(t *testing.T) {
	rooms := []*model.Room{{ID: "r1"}, {ID: "r2"}}
	assert.Equal(t, []string{"r1", "r2"}, ids(rooms, func(r *model.Room) string { return r.ID }))
	assert.Empty(t, ids([]*model.Room(nil), func(r *model.Room) string { return r.ID }))
	assert.Equal(t, []string{}, nonNil(nil))
}

func TestSourcesImplementInterface(t *testing.T) {
	sources := []automail.Source{
		NewAttendeeSource(nil),
		NewGroupSource(nil),
		NewRoomSource(nil),
		NewIndieGameSource(nil),
		NewPanelApplicationSource(nil),
	}
	var types []string
	for _, s := range sources {
		types = append(types, s.EntityType())
	}
	assert.Equal(t, []string{
		model.TypeAttendee, model.TypeGroup, model.TypeRoom, model.TypeIndieGame, model.TypePanelApplication,
	}, types)

	var _ automail.SentLog = (*SentEmailRepository)(nil)
	var _ automail.ApprovalSource = (*ApprovalRepository)(nil)
	var _ automail.StatsStore = (*RunStatsRepository)(nil)
}
