package automail

import (
	"strings"
	"time"

	"ubersystem/internal/mailer"
	"ubersystem/internal/model"
)

// Category 一类自动邮件。注册后不可修改。
type Category struct {
	Ident      string
	EntityType string
	// Subject 已经在构造时替换过 {EVENT_NAME} / {EVENT_DATE}
	Subject  string
	Template string
	Sender   string
	CC       []string
	BCC      []string

	NeedsApproval  bool
	PostCon        bool
	AllowDuringCon bool

	When   []DateRule
	Filter Filter

	// ExtraData 合并进模板 context
	ExtraData map[string]interface{}
	// SubjectFunc 按实体生成标题，为 nil 时使用 Subject
	SubjectFunc func(e model.Entity) string
}

// Format text 或 html，由模板后缀决定
func (c *Category) Format() string {
	return mailer.FormatFor(c.Template)
}

// WhenText 所有日期规则的描述，每行一条
func (c *Category) WhenText() string {
	return whenText(c.When)
}

// ComputedSubject 每次发送都走这里，静态标题的分类也一样
func (c *Category) ComputedSubject(e model.Entity) string {
	if c.SubjectFunc != nil {
		return c.SubjectFunc(e)
	}
	return c.Subject
}

func (c *Category) validate() error {
	switch {
	case strings.TrimSpace(c.Ident) == "":
		return &ConfigError{Reason: "ident may not be empty"}
	case c.EntityType == "":
		return &ConfigError{Ident: c.Ident, Reason: "entity type is required"}
	case c.Template == "":
		return &ConfigError{Ident: c.Ident, Reason: "template is required"}
	case c.Filter == nil:
		return &ConfigError{Ident: c.Ident, Reason: "filter is required"}
	case c.Sender == "":
		return &ConfigError{Ident: c.Ident, Reason: "sender is required"}
	}
	return nil
}

// EventInfo 用于格式化标题
type EventInfo struct {
	Name  string
	Epoch time.Time
}

// FormatSubject 替换 {EVENT_NAME} 和 {EVENT_DATE}（形如 "(Jan 2026)"）
func FormatSubject(subject string, ev EventInfo) string {
	return strings.NewReplacer(
		"{EVENT_NAME}", ev.Name,
		"{EVENT_DATE}", ev.Epoch.Format("(Jan 2006)"),
	).Replace(subject)
}
