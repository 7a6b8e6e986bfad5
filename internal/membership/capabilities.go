package membership

import "github.com/kiumaa/kixikila/internal/models"

// Capability is something a role may be allowed to do within a group.
type Capability string

const (
	CapabilityDraw          Capability = "draw"
	CapabilityManageMembers Capability = "manage_members"
	CapabilityManageGroup   Capability = "manage_group"
)

var grants = map[models.Role]map[Capability]bool{
	models.RoleCreator: {
		CapabilityDraw:          true,
		CapabilityManageMembers: true,
		CapabilityManageGroup:   true,
	},
	models.RoleAdmin: {
		CapabilityDraw:          true,
		CapabilityManageMembers: true,
		CapabilityManageGroup:   true,
	},
	models.RoleMember: {},
}

// Can reports whether role grants capability. Unknown roles grant nothing.
func Can(role models.Role, capability Capability) bool {
	return grants[role][capability]
}
