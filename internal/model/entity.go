package model

// 实体类型名，同时也是 sent_emails.entity_type 列的取值
const (
	TypeAttendee         = "Attendee"
	TypeGroup            = "Group"
	TypeRoom             = "Room"
	TypeIndieGame        = "IndieGame"
	TypePanelApplication = "PanelApplication"
)

// Entity 是自动邮件可以发送到的领域对象
type Entity interface {
	EntityType() string
	EntityID() string
	// EmailAddress 为空表示无法联系
	EmailAddress() string
	// ContextName 是渲染模板时该实体在 context 里的 key
	ContextName() string
	// Fields 只包含基础类型、[]interface{} 和 map，供脚本过滤器读取
	Fields() map[string]interface{}
}
