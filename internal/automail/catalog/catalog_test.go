package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ubersystem/internal/automail"
	"ubersystem/internal/mailer"
	"ubersystem/internal/model"
)

var builder = automail.Builder{
	Event: automail.EventInfo{Name: "MAGFest", Epoch: time.Date(2027, 1, 7, 0, 0, 0, 0, time.UTC)},
	Senders: automail.Senders{
		Staff:       "stops@magfest.org",
		Regdesk:     "regdesk@magfest.org",
		Marketplace: "marketplace@magfest.org",
		Guest:       "guests@magfest.org",
		Panels:      "panels@magfest.org",
		Indie:       "mivs@magfest.org",
		Hotel:       "hotels@magfest.org",
	},
}

func TestRegister_BuiltinCategories(t *testing.T) {
	reg := automail.NewRegistry()
	checklist := []automail.ChecklistConf{
		{Name: "Treasury", Slug: "treasury", Deadline: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, Register(reg, builder, Dates{}, checklist))

	assert.Equal(t, len(Categories(builder, Dates{}, checklist)), reg.Len())
	assert.ElementsMatch(t, []string{
		model.TypeAttendee, model.TypeGroup, model.TypeRoom, model.TypeIndieGame, model.TypePanelApplication,
	}, reg.EntityTypes())

	c, ok := reg.Get("department_checklist_Treasury")
	require.True(t, ok)
	assert.Equal(t, "stops@magfest.org", c.Sender)

	hotel, ok := reg.Get("hotel_room_assignment")
	require.True(t, ok)
	assert.Equal(t, "hotels@magfest.org", hotel.Sender)
	assert.Empty(t, hotel.When)

	// 同一份内置分类注册两次会因 ident 重复失败
	err := Register(reg, builder, Dates{}, nil)
	var dup *automail.DuplicateIdentError
	require.ErrorAs(t, err, &dup)
}

func TestVolunteerScheduleSubject(t *testing.T) {
	reg := automail.NewRegistry()
	require.NoError(t, Register(reg, builder, Dates{}, nil))
	c, _ := reg.Get("volunteer_schedule")

	a := &model.Attendee{ID: "a1", Staffing: true, Shifts: []model.Shift{{Job: model.Job{Duration: 3}}, {Job: model.Job{Duration: 2}}}}
	assert.Equal(t, "Your MAGFest volunteer schedule (5 hours)", c.ComputedSubject(a))
}

func TestParse(t *testing.T) {
	cats, err := Parse([]byte(`
categories:
  - ident: volunteer_no_shifts_reminder
    entity_type: Attendee
    subject: "{EVENT_NAME} still needs you"
    template: shifts/no_shifts.txt
    sender: staff
    needs_approval: false
    filter: result = entity.staffing && entity.shift_count == 0
    days_before:
      days: 14
      deadline: 2027-01-01T00:00:00Z
    extra_data:
      signup_url: https://magfest.org/volunteer
  - ident: panels_custom
    entity_type: PanelApplication
    subject: Panels
    template: panels/custom.html
    sender: someone@magfest.org
`), builder)
	require.NoError(t, err)
	require.Len(t, cats, 2)

	c := cats[0]
	assert.Equal(t, "MAGFest still needs you", c.Subject)
	assert.Equal(t, "stops@magfest.org", c.Sender)
	assert.False(t, c.NeedsApproval)
	assert.Equal(t, "between 2026-12-18 and 2027-01-01", c.WhenText())
	assert.Equal(t, "https://magfest.org/volunteer", c.ExtraData["signup_url"])

	ok, err := c.Filter.Match(&model.Attendee{Staffing: true})
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "someone@magfest.org", cats[1].Sender)
	assert.True(t, cats[1].NeedsApproval)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`categories: [{ident: x, entity_type: Badge, template: a.txt}]`), builder)
	var cfgErr *automail.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = Parse([]byte(`categories: [{ident: x, entity_type: Attendee, template: a.txt, filter: "result = ("}]`), builder)
	require.ErrorAs(t, err, &cfgErr)

	_, err = Parse([]byte(`categories: {`), builder)
	require.Error(t, err)
}

func sampleEntities() map[string]model.Entity {
	leader := &model.Attendee{ID: "a1", FirstName: "Ada", LastName: "Byron", Email: "ada@example.com"}
	return map[string]model.Entity{
		model.TypeAttendee: &model.Attendee{
			ID: "a2", FirstName: "Grace", BadgeType: model.BadgeStaff, Staffing: true,
			Shifts: []model.Shift{{Job: model.Job{Name: "Registration", Department: "regdesk", Duration: 2}}},
		},
		model.TypeGroup: &model.Group{ID: "g1", Name: "Chiptune Collective", Leader: leader, TablesWanted: 1},
		model.TypeRoom: &model.Room{
			ID: "r1", Nights: []string{"Thursday", "Friday"},
			Assignments: []model.RoomAssignment{{AttendeeID: "a1", Attendee: leader}},
		},
		model.TypeIndieGame:        &model.IndieGame{ID: "i1", Title: "Pixel Quest", Studio: "Tiny Studio"},
		model.TypePanelApplication: &model.PanelApplication{ID: "p1", Name: "History of Chiptune", Length: 150},
	}
}

func TestTemplatesRender(t *testing.T) {
	renderer := mailer.NewTemplateRenderer("../../../templates")
	checklist := []automail.ChecklistConf{{Name: "Treasury", Slug: "treasury", Deadline: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)}}

	cats := Categories(builder, Dates{}, checklist)
	extra, err := LoadFile("../../../config/categories.yaml", builder)
	require.NoError(t, err)
	cats = append(cats, extra...)

	entities := sampleEntities()
	for _, c := range cats {
		e := entities[c.EntityType]
		data := map[string]interface{}{e.ContextName(): e}
		for k, v := range c.ExtraData {
			data[k] = v
		}
		body, err := renderer.Render(c.Template, data)
		if assert.NoError(t, err, c.Ident) {
			assert.NotEmpty(t, body, c.Ident)
		}
	}

	body, err := renderer.Render(automail.PendingReportTemplate, map[string]interface{}{
		"pending_email_categories": automail.PendingData{
			"regdesk@magfest.org": {"attendee_badge_confirmed": {NumUnsent: 3, Subject: "MAGFest Registration Confirmed", Sender: "regdesk@magfest.org"}},
		},
		"primary_sender": "regdesk@magfest.org",
	})
	require.NoError(t, err)
	assert.Contains(t, string(body), "3 unsent")
}
