package model

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Privileged roles always see true upstream prices.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

type Permission string

const (
	PermManageAccounts Permission = "manage_accounts"
	PermManageTrades   Permission = "manage_trades"
)

// Identity is what a verified token resolves to.
type Identity struct {
	UserID int64
	Role   Role
}
