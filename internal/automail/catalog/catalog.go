// Package catalog 注册活动实际使用的自动邮件分类。
package catalog

import (
	"fmt"
	"time"

	"ubersystem/internal/automail"
	"ubersystem/internal/model"
)

// Dates 分类用到的截止日期，零值表示不限
type Dates struct {
	ShiftsCreated    time.Time `yaml:"shifts_created"`
	PlaceholderDue   time.Time `yaml:"placeholder_deadline"`
	GroupPaymentDue  time.Time `yaml:"group_payment_due"`
	DealerPaymentDue time.Time `yaml:"dealer_payment_due"`
	RoomDeadline     time.Time `yaml:"room_deadline"`
	PanelConfirmDue  time.Time `yaml:"panel_confirm_deadline"`
}

func before(t time.Time) []automail.DateRule {
	if t.IsZero() {
		return nil
	}
	return []automail.DateRule{automail.Before(t)}
}

func after(t time.Time) []automail.DateRule {
	if t.IsZero() {
		return nil
	}
	return []automail.DateRule{automail.After(t)}
}

func daysBefore(n int, t time.Time) []automail.DateRule {
	if t.IsZero() {
		return nil
	}
	return []automail.DateRule{automail.DaysBefore(n, t)}
}

// Categories 内置分类，按注册顺序
func Categories(b automail.Builder, d Dates, checklist []automail.ChecklistConf) []*automail.Category {
	cats := []*automail.Category{
		b.New(model.TypeAttendee,
			"{EVENT_NAME} Registration Confirmed",
			"reg_workflow/attendee_confirmation.html",
			automail.FilterOf("badge_confirmed", func(a *model.Attendee) bool {
				return a.Paid() && !a.Placeholder && a.GroupID == nil
			}),
			"attendee_badge_confirmed",
			automail.NeedsApproval(false),
			automail.AllowDuringCon(),
		),
		b.New(model.TypeAttendee,
			"Please complete your {EVENT_NAME} registration",
			"placeholders/regular.txt",
			automail.FilterOf("placeholder", func(a *model.Attendee) bool {
				return a.Placeholder && a.BadgeType != model.BadgeGuest
			}),
			"placeholder_badge_reminder",
			automail.WithWhen(daysBefore(7, d.PlaceholderDue)...),
		),
		b.New(model.TypeAttendee,
			"{EVENT_NAME} Payment Refunded",
			"reg_workflow/refund.txt",
			automail.FilterOf("refunded", func(a *model.Attendee) bool { return a.PaidStatus == model.PaidRefunded }),
			"attendee_refunded",
			automail.NeedsApproval(false),
		),

		b.StopsEmail(
			"{EVENT_NAME} shifts available",
			"shifts/shifts_created.txt",
			automail.FilterOf("no_shifts", func(a *model.Attendee) bool { return len(a.Shifts) == 0 }),
			"volunteer_shifts_available",
			automail.WithWhen(after(d.ShiftsCreated)...),
		),
		b.StopsEmail(
			"Your {EVENT_NAME} {EVENT_DATE} volunteer schedule",
			"shifts/schedule.html",
			automail.FilterOf("has_shifts", func(a *model.Attendee) bool { return len(a.Shifts) > 0 }),
			"volunteer_schedule",
			automail.WithSubjectFunc(func(e model.Entity) string {
				a := e.(*model.Attendee)
				return fmt.Sprintf("Your %s volunteer schedule (%d hours)", b.Event.Name, a.WeightedHours())
			}),
		),
		b.StopsEmail(
			"Thank you for volunteering at {EVENT_NAME}",
			"shifts/thank_you.txt",
			automail.FilterOf("worked_shifts", func(a *model.Attendee) bool { return len(a.Shifts) > 0 }),
			"volunteer_thank_you",
			automail.PostCon(true),
		),

		b.GuestEmail("{EVENT_NAME} Guest Check-in Information", "guests/checkin.html", "guest_checkin_info", nil),

		b.GroupEmail(
			"Payment reminder for your {EVENT_NAME} group",
			"reg_workflow/group_payment_reminder.txt",
			automail.FilterOf("owes_money", func(g *model.Group) bool { return g.AmountOwed > 0 }),
			"group_payment_reminder",
			automail.WithWhen(daysBefore(14, d.GroupPaymentDue)...),
		),
		b.GroupEmail(
			"Register the remaining badges in your {EVENT_NAME} group",
			"reg_workflow/group_placeholders.txt",
			automail.FilterOf("unregistered_badges", func(g *model.Group) bool { return g.UnregisteredBadges() > 0 }),
			"group_unregistered_badges",
		),

		b.MarketplaceEmail(
			"Your {EVENT_NAME} Marketplace application has been approved",
			"dealers/approved.html",
			automail.FilterOf("dealer_approved", func(g *model.Group) bool { return g.Status == model.GroupApproved }),
			"dealer_approved",
		),
		b.MarketplaceEmail(
			"Your {EVENT_NAME} Marketplace application has been waitlisted",
			"dealers/waitlisted.html",
			automail.FilterOf("dealer_waitlisted", func(g *model.Group) bool { return g.Status == model.GroupWaitlisted }),
			"dealer_waitlisted",
		),
		b.MarketplaceEmail(
			"{EVENT_NAME} Marketplace payment due",
			"dealers/payment_reminder.txt",
			automail.FilterOf("dealer_owes", func(g *model.Group) bool {
				return g.Status == model.GroupApproved && g.AmountOwed > 0
			}),
			"dealer_payment_reminder",
			automail.WithWhen(daysBefore(7, d.DealerPaymentDue)...),
		),

		b.New(model.TypeRoom,
			"{EVENT_NAME} Hotel Room Assignment",
			"hotel/room_assignment.txt",
			automail.FilterOf("locked_in", func(r *model.Room) bool { return r.Locked && len(r.Assignments) > 0 }),
			"hotel_room_assignment",
			automail.WithSender(b.Senders.Hotel),
			automail.WithWhen(after(d.RoomDeadline)...),
		),

		b.New(model.TypeIndieGame,
			"Your game has been accepted into the {EVENT_NAME} showcase",
			"indie/game_accepted.html",
			automail.FilterOf("game_accepted", func(g *model.IndieGame) bool { return g.Status == model.GameAccepted }),
			"indie_game_accepted",
			automail.WithSender(b.Senders.Indie),
		),
		b.New(model.TypeIndieGame,
			"Your {EVENT_NAME} showcase submission",
			"indie/game_declined.html",
			automail.FilterOf("game_declined", func(g *model.IndieGame) bool { return g.Status == model.GameDeclined }),
			"indie_game_declined",
			automail.WithSender(b.Senders.Indie),
		),

		b.New(model.TypePanelApplication,
			"Your {EVENT_NAME} panel has been accepted",
			"panels/panel_app_accepted.txt",
			automail.FilterOf("panel_accepted", func(p *model.PanelApplication) bool { return p.Status == model.PanelAccepted }),
			"panel_accepted",
			automail.WithSender(b.Senders.Panels),
		),
		b.New(model.TypePanelApplication,
			"Please confirm your {EVENT_NAME} panel",
			"panels/panel_app_confirmation_reminder.txt",
			automail.FilterOf("panel_unconfirmed", func(p *model.PanelApplication) bool {
				return p.Status == model.PanelAccepted && !p.Confirmed
			}),
			"panel_confirmation_reminder",
			automail.WithSender(b.Senders.Panels),
			automail.WithWhen(daysBefore(7, d.PanelConfirmDue)...),
		),
	}

	for _, conf := range checklist {
		cats = append(cats, b.DeptChecklistEmail(conf))
	}
	return cats
}

// Register 注册内置分类和额外定义的分类（例如从 YAML 加载的）
func Register(reg *automail.Registry, b automail.Builder, d Dates, checklist []automail.ChecklistConf, extra ...*automail.Category) error {
	for _, c := range append(Categories(b, d, checklist), extra...) {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
