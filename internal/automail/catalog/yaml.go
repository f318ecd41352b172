package catalog

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ubersystem/internal/automail"
	"ubersystem/internal/model"
)

// Definition YAML 里定义的分类，过滤器是 tengo 脚本
//
//	- ident: volunteer_no_shifts_reminder
//	  entity_type: Attendee
//	  subject: "{EVENT_NAME} still needs you"
//	  template: shifts/no_shifts.txt
//	  sender: staff
//	  filter: result = entity.staffing && entity.shift_count == 0
//	  days_before:
//	    days: 14
//	    deadline: 2027-01-01T00:00:00Z
type Definition struct {
	Ident          string            `yaml:"ident"`
	EntityType     string            `yaml:"entity_type"`
	Subject        string            `yaml:"subject"`
	Template       string            `yaml:"template"`
	Sender         string            `yaml:"sender"`
	CC             []string          `yaml:"cc"`
	BCC            []string          `yaml:"bcc"`
	NeedsApproval  *bool             `yaml:"needs_approval"`
	PostCon        bool              `yaml:"post_con"`
	AllowDuringCon bool              `yaml:"allow_during_con"`
	Filter         string            `yaml:"filter"`
	Before         *time.Time        `yaml:"before"`
	After          *time.Time        `yaml:"after"`
	DaysBefore     *DaysBeforeRule   `yaml:"days_before"`
	ExtraData      map[string]string `yaml:"extra_data"`
}

type DaysBeforeRule struct {
	Days     int       `yaml:"days"`
	Deadline time.Time `yaml:"deadline"`
}

type file struct {
	Categories []Definition `yaml:"categories"`
}

var entityTypes = map[string]bool{
	model.TypeAttendee:         true,
	model.TypeGroup:            true,
	model.TypeRoom:             true,
	model.TypeIndieGame:        true,
	model.TypePanelApplication: true,
}

// LoadFile 读取 YAML 分类定义文件
func LoadFile(path string, b automail.Builder) ([]*automail.Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read categories file: %w", err)
	}
	return Parse(data, b)
}

// Parse 解析 YAML 并编译过滤脚本，任何一条定义有误都返回错误
func Parse(data []byte, b automail.Builder) ([]*automail.Category, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse categories: %w", err)
	}

	out := make([]*automail.Category, 0, len(f.Categories))
	for _, def := range f.Categories {
		c, err := def.build(b)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (d Definition) build(b automail.Builder) (*automail.Category, error) {
	if !entityTypes[d.EntityType] {
		return nil, &automail.ConfigError{Ident: d.Ident, Reason: fmt.Sprintf("unknown entity type %q", d.EntityType)}
	}

	filter := automail.Always
	if d.Filter != "" {
		sf, err := automail.NewScriptFilter(d.Ident, d.Filter)
		if err != nil {
			return nil, &automail.ConfigError{Ident: d.Ident, Reason: err.Error()}
		}
		filter = sf
	}

	opts := []automail.Option{automail.WithSender(resolveSender(d.Sender, b.Senders))}
	if d.NeedsApproval != nil {
		opts = append(opts, automail.NeedsApproval(*d.NeedsApproval))
	}
	if d.PostCon {
		opts = append(opts, automail.PostCon(true))
	}
	if d.AllowDuringCon {
		opts = append(opts, automail.AllowDuringCon())
	}
	if len(d.CC) > 0 {
		opts = append(opts, automail.WithCC(d.CC...))
	}
	if len(d.BCC) > 0 {
		opts = append(opts, automail.WithBCC(d.BCC...))
	}
	if d.Before != nil {
		opts = append(opts, automail.WithWhen(automail.Before(*d.Before)))
	}
	if d.After != nil {
		opts = append(opts, automail.WithWhen(automail.After(*d.After)))
	}
	if d.DaysBefore != nil {
		opts = append(opts, automail.WithWhen(automail.DaysBefore(d.DaysBefore.Days, d.DaysBefore.Deadline)))
	}
	for k, v := range d.ExtraData {
		opts = append(opts, automail.WithExtraData(k, v))
	}

	return b.New(d.EntityType, d.Subject, d.Template, filter, d.Ident, opts...), nil
}

// resolveSender 支持部门别名，其他值原样作为地址
func resolveSender(s string, senders automail.Senders) string {
	switch s {
	case "", "regdesk":
		return senders.Regdesk
	case "staff", "stops":
		return senders.Staff
	case "marketplace":
		return senders.Marketplace
	case "guest":
		return senders.Guest
	case "panels":
		return senders.Panels
	case "indie":
		return senders.Indie
	case "hotel":
		return senders.Hotel
	}
	return s
}
