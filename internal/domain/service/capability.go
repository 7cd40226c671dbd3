package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"tradestream/internal/domain/model"
)

// PermissionChecker answers whether an admin holds a named permission.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID int64, perm model.Permission) (bool, error)
}

// Capability is the typed outcome of a privileged-action check.
type Capability struct {
	Allowed bool
	Role    model.Role
	Reason  string
}

const (
	ReasonUnauthenticated   = "unauthenticated"
	ReasonInsufficientRole  = "insufficient role"
	ReasonMissingPermission = "missing permission"
	ReasonLookupFailed      = "permission lookup failed"
)

// Authorize decides whether id may perform an action guarded by perm.
// Superadmins always pass; admins need perm; everyone else is refused.
func Authorize(ctx context.Context, id *model.Identity, perm model.Permission, checker PermissionChecker) Capability {
	if id == nil || id.UserID == 0 {
		return Capability{Reason: ReasonUnauthenticated}
	}
	switch id.Role {
	case model.RoleSuperAdmin:
		return Capability{Allowed: true, Role: id.Role}
	case model.RoleAdmin:
		ok, err := checker.HasPermission(ctx, id.UserID, perm)
		if err != nil {
			log.Error().Err(err).Int64("user_id", id.UserID).Str("permission", string(perm)).Msg("permission lookup failed")
			return Capability{Role: id.Role, Reason: ReasonLookupFailed}
		}
		if !ok {
			return Capability{Role: id.Role, Reason: ReasonMissingPermission + " " + string(perm)}
		}
		return Capability{Allowed: true, Role: id.Role}
	default:
		return Capability{Role: id.Role, Reason: ReasonInsufficientRole}
	}
}
