// Package permissions answers "may this user do this here". Role
// resolution hits the durable store; the permission matrix itself is a
// pure table over roles.
package permissions

import (
	"chat-core/errs"
	"chat-core/model"
	"chat-core/store"

	"github.com/jmoiron/sqlx"
)

// Action names a permissible operation.
type Action string

const (
	ActionView          Action = "view"
	ActionPostMessage   Action = "post_message"
	ActionDeleteMessage Action = "delete_message"
	ActionPinMessage    Action = "pin_message"
	ActionKickMember    Action = "kick_member"
	ActionMute          Action = "mute"
	ActionBan           Action = "ban"
	ActionManageServer  Action = "manage_server"
	ActionDeleteServer  Action = "delete_server"
)

var rolePermissions = map[model.Role]map[Action]bool{
	model.RoleMember: {
		ActionView:        true,
		ActionPostMessage: true,
	},
	model.RoleModerator: {
		ActionView:          true,
		ActionPostMessage:   true,
		ActionDeleteMessage: true,
		ActionPinMessage:    true,
		ActionKickMember:    true,
		ActionMute:          true,
		ActionBan:           true,
	},
	model.RoleAdmin: {
		ActionView:          true,
		ActionPostMessage:   true,
		ActionDeleteMessage: true,
		ActionPinMessage:    true,
		ActionKickMember:    true,
		ActionMute:          true,
		ActionBan:           true,
		ActionManageServer:  true,
	},
	model.RoleOwner: {
		ActionView:          true,
		ActionPostMessage:   true,
		ActionDeleteMessage: true,
		ActionPinMessage:    true,
		ActionKickMember:    true,
		ActionMute:          true,
		ActionBan:           true,
		ActionManageServer:  true,
		ActionDeleteServer:  true,
	},
}

// HasPermission reports whether a role may perform an action.
func HasPermission(role model.Role, action Action) bool {
	return rolePermissions[role][action]
}

// CanActOn reports whether actor may target target for a moderation
// action. The hierarchy is strict: equal or higher targets are
// untouchable, so admin-on-admin requires the owner.
func CanActOn(actor, target model.Role) bool {
	return target.Rank() < actor.Rank()
}

// Resolver resolves (user, server) to a role and permission set.
type Resolver struct {
	db *sqlx.DB
}

func NewResolver(db *sqlx.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns the user's role in the server. A missing membership
// is a NotFound error.
func (r *Resolver) Resolve(userID, serverID string) (model.Role, error) {
	membership, err := store.GetMembership(r.db, userID, serverID)
	if err != nil {
		return "", errs.Wrap(errs.CodeInternal, "failed to resolve membership", err)
	}
	if membership == nil {
		return "", errs.NotFound("not a member of this server")
	}
	return membership.Role, nil
}

// Permissions lists the actions a role may perform.
func Permissions(role model.Role) []Action {
	perms := rolePermissions[role]
	out := make([]Action, 0, len(perms))
	for action := range perms {
		out = append(out, action)
	}
	return out
}

// UpdateRole changes a member's role on behalf of actorID. The owner
// role can never be assigned or taken away here, and an admin may not
// touch another admin unless the actor is the owner.
func (r *Resolver) UpdateRole(actorID, targetID, serverID string, newRole model.Role) error {
	if newRole == model.RoleOwner {
		return errs.InvalidArg("the owner role cannot be assigned")
	}
	if !newRole.Valid() {
		return errs.InvalidArg("unknown role")
	}

	actorRole, err := r.Resolve(actorID, serverID)
	if err != nil {
		return err
	}
	if !HasPermission(actorRole, ActionManageServer) {
		return errs.Forbidden("insufficient permissions to update roles")
	}

	targetRole, err := r.Resolve(targetID, serverID)
	if err != nil {
		return err
	}
	if targetRole == model.RoleOwner {
		return errs.Forbidden("the owner's role cannot be changed")
	}
	if targetRole == model.RoleAdmin && actorRole != model.RoleOwner {
		return errs.Forbidden("only the owner may change another admin's role")
	}

	if err := store.UpdateMembershipRole(r.db, targetID, serverID, newRole); err != nil {
		return errs.Wrap(errs.CodeInternal, "failed to update role", err)
	}
	return nil
}
