package automail

import (
	"time"

	"ubersystem/internal/model"
)

// Senders 各部门的发件地址
type Senders struct {
	Staff       string
	Regdesk     string
	Marketplace string
	Guest       string
	Panels      string
	Indie       string
	Hotel       string
}

// Builder 构造分类：格式化标题并填入默认值（发件人 regdesk，需要审批）
type Builder struct {
	Event   EventInfo
	Senders Senders
}

// Option 可选的分类配置
type Option func(*Category)

func WithWhen(rules ...DateRule) Option {
	return func(c *Category) { c.When = append(c.When, rules...) }
}

func WithSender(sender string) Option {
	return func(c *Category) { c.Sender = sender }
}

func WithCC(cc ...string) Option {
	return func(c *Category) { c.CC = append(c.CC, cc...) }
}

func WithBCC(bcc ...string) Option {
	return func(c *Category) { c.BCC = append(c.BCC, bcc...) }
}

func WithExtraData(key string, value interface{}) Option {
	return func(c *Category) {
		if c.ExtraData == nil {
			c.ExtraData = make(map[string]interface{})
		}
		c.ExtraData[key] = value
	}
}

func WithSubjectFunc(fn func(model.Entity) string) Option {
	return func(c *Category) { c.SubjectFunc = fn }
}

// NeedsApproval 默认为 true
func NeedsApproval(v bool) Option {
	return func(c *Category) { c.NeedsApproval = v }
}

// PostCon 只在活动结束后发送
func PostCon(v bool) Option {
	return func(c *Category) { c.PostCon = v }
}

// AllowDuringCon 活动进行中也允许发送
func AllowDuringCon() Option {
	return func(c *Category) { c.AllowDuringCon = true }
}

// New 构造一个分类
func (b Builder) New(entityType, subject, template string, filter Filter, ident string, opts ...Option) *Category {
	c := &Category{
		Ident:         ident,
		EntityType:    entityType,
		Subject:       FormatSubject(subject, b.Event),
		Template:      template,
		Filter:        filter,
		Sender:        b.Senders.Regdesk,
		NeedsApproval: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var isStaffing = FilterOf("staffing", func(a *model.Attendee) bool { return a.Staffing })

var isGuest = FilterOf("guest_badge", func(a *model.Attendee) bool { return a.BadgeType == model.BadgeGuest })

var isDealer = FilterOf("dealer", func(g *model.Group) bool { return g.IsDealer })

var notDealer = FilterOf("not_dealer", func(g *model.Group) bool { return !g.IsDealer })

// StopsEmail 只发给志愿者，发件人是 staff
func (b Builder) StopsEmail(subject, template string, filter Filter, ident string, opts ...Option) *Category {
	opts = append([]Option{WithSender(b.Senders.Staff)}, opts...)
	return b.New(model.TypeAttendee, subject, template, And(isStaffing, filter), ident, opts...)
}

// GuestEmail 只发给嘉宾徽章，filter 可以为 nil
func (b Builder) GuestEmail(subject, template, ident string, filter Filter, opts ...Option) *Category {
	if filter == nil {
		filter = Always
	}
	opts = append([]Option{WithSender(b.Senders.Guest)}, opts...)
	return b.New(model.TypeAttendee, subject, template, And(isGuest, filter), ident, opts...)
}

// GroupEmail 非商户团体，发件人是 regdesk
func (b Builder) GroupEmail(subject, template string, filter Filter, ident string, opts ...Option) *Category {
	opts = append([]Option{WithSender(b.Senders.Regdesk)}, opts...)
	return b.New(model.TypeGroup, subject, template, And(notDealer, filter), ident, opts...)
}

// MarketplaceEmail 商户团体，发件人是 marketplace
func (b Builder) MarketplaceEmail(subject, template string, filter Filter, ident string, opts ...Option) *Category {
	opts = append([]Option{WithSender(b.Senders.Marketplace)}, opts...)
	return b.New(model.TypeGroup, subject, template, And(isDealer, filter), ident, opts...)
}

// ChecklistConf 部门 checklist 的一个条目
type ChecklistConf struct {
	Name         string    `yaml:"name"`
	Slug         string    `yaml:"slug"`
	Deadline     time.Time `yaml:"deadline"`
	EmailPostCon bool      `yaml:"email_post_con"`
}

// DeptChecklistEmail 提醒部门管理员完成 checklist 条目，截止前 10 天开始发送
func (b Builder) DeptChecklistEmail(conf ChecklistConf) *Category {
	filter := FilterOf("checklist_incomplete:"+conf.Slug, func(a *model.Attendee) bool {
		if !a.AdminAccount {
			return false
		}
		for _, d := range a.ChecklistAdminDepts {
			if !d.ChecklistItemDone(conf.Slug) {
				return true
			}
		}
		return false
	})
	return b.New(model.TypeAttendee,
		"{EVENT_NAME} Department Checklist: "+conf.Name,
		"shifts/dept_checklist.txt",
		filter,
		"department_checklist_"+conf.Name,
		WithWhen(DaysBefore(10, conf.Deadline)),
		WithSender(b.Senders.Staff),
		WithExtraData("conf", conf),
		PostCon(conf.EmailPostCon),
	)
}
