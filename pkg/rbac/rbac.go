package rbac

// 权限常量
const (
	PermissionReadStatus   = "automail:read"
	PermissionTriggerRun   = "automail:run"
	PermissionApprove      = "automail:approve"
	PermissionReadOutbox   = "outbox:read"
	PermissionReplayOutbox = "outbox:replay"
)

// 角色常量
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleStaff: {
		PermissionReadStatus,
		PermissionReadOutbox,
	},
	RoleAdmin: {
		PermissionReadStatus,
		PermissionTriggerRun,
		PermissionApprove,
		PermissionReadOutbox,
		PermissionReplayOutbox,
	},
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 同 HasPermission，返回错误便于 handler 处理
func CheckPermission(subject, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Subject:    subject,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Subject    string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission
}
