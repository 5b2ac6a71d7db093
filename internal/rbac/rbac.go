package rbac

type Role string
type Right string

const (
	RoleViewer     Role = "viewer"
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

const (
	RightGetItems         Right = "getItems"
	RightManageItems      Right = "manageItems"
	RightGetDatabaseItems Right = "getDatabaseItems"
)

func Can(role Role, right Right) bool {
	switch role {
	case RoleAdmin, RoleSuperAdmin:
		return true
	case RoleUser:
		return right == RightGetItems || right == RightManageItems
	case RoleViewer:
		return right == RightGetItems
	default:
		return false
	}
}

// CanAll reports whether role holds every right.
func CanAll(role Role, rights ...Right) bool {
	for _, right := range rights {
		if !Can(role, right) {
			return false
		}
	}
	return true
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleUser, RoleAdmin, RoleSuperAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
