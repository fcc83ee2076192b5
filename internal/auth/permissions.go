package auth

const (
	ResourceUsers   = "users"
	ResourceRoles   = "roles"
	ResourceProfile = "profile"

	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
	ActionManage = "manage"
)

// Built-in role names.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var BuiltinPermissions = []Permission{
	{Resource: ResourceUsers, Action: ActionRead, Description: "List and read directory entries"},
	{Resource: ResourceUsers, Action: ActionWrite, Description: "Update directory entries"},
	{Resource: ResourceUsers, Action: ActionDelete, Description: "Delete directory entries"},
	{Resource: ResourceRoles, Action: ActionManage, Description: "Assign roles and grant permissions"},
	{Resource: ResourceProfile, Action: ActionRead, Description: "Read own profile"},
}
