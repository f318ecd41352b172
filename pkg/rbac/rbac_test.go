package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckPermission(t *testing.T) {
	assert.NoError(t, CheckPermission("ops", RoleAdmin, PermissionTriggerRun))
	assert.NoError(t, CheckPermission("desk", RoleStaff, PermissionReadOutbox))

	err := CheckPermission("desk", RoleStaff, PermissionReplayOutbox)
	var denied *PermissionDeniedError
	assert.ErrorAs(t, err, &denied)
	assert.Equal(t, PermissionReplayOutbox, denied.Permission)

	assert.False(t, HasPermission("nobody", PermissionReadStatus))
}
