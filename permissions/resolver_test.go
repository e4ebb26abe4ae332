package permissions

import (
	"testing"

	"chat-core/errs"
	"chat-core/model"
	"chat-core/store"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T) (*sqlx.DB, *Resolver, *model.Server, map[string]string) {
	t.Helper()
	db, err := store.InitMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := make(map[string]string)
	for _, name := range []string{"owner", "admin", "admin2", "mod", "member"} {
		u, err := store.CreateUser(db, name)
		require.NoError(t, err)
		users[name] = u.ID
	}

	server, err := store.CreateServer(db, "srv", users["owner"], model.PolicyLog)
	require.NoError(t, err)

	require.NoError(t, store.AddMembership(db, users["admin"], server.ID, model.RoleAdmin))
	require.NoError(t, store.AddMembership(db, users["admin2"], server.ID, model.RoleAdmin))
	require.NoError(t, store.AddMembership(db, users["mod"], server.ID, model.RoleModerator))
	require.NoError(t, store.AddMembership(db, users["member"], server.ID, model.RoleMember))

	return db, NewResolver(db), server, users
}

func Test_PermissionMatrix(t *testing.T) {
	assert.True(t, HasPermission(model.RoleOwner, ActionDeleteServer))
	assert.False(t, HasPermission(model.RoleAdmin, ActionDeleteServer))
	assert.True(t, HasPermission(model.RoleAdmin, ActionManageServer))

	assert.True(t, HasPermission(model.RoleModerator, ActionBan))
	assert.True(t, HasPermission(model.RoleModerator, ActionDeleteMessage))
	assert.False(t, HasPermission(model.RoleModerator, ActionManageServer))

	assert.True(t, HasPermission(model.RoleMember, ActionPostMessage))
	assert.False(t, HasPermission(model.RoleMember, ActionDeleteMessage))
}

func Test_CanActOn_StrictHierarchy(t *testing.T) {
	assert.True(t, CanActOn(model.RoleModerator, model.RoleMember))
	assert.False(t, CanActOn(model.RoleModerator, model.RoleModerator))
	assert.False(t, CanActOn(model.RoleModerator, model.RoleAdmin))
	assert.False(t, CanActOn(model.RoleAdmin, model.RoleAdmin))
	assert.True(t, CanActOn(model.RoleOwner, model.RoleAdmin))
}

func Test_Resolve(t *testing.T) {
	_, resolver, server, users := newFixture(t)

	role, err := resolver.Resolve(users["mod"], server.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleModerator, role)

	_, err = resolver.Resolve("stranger", server.ID)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func Test_UpdateRole_OwnerImmutable(t *testing.T) {
	_, resolver, server, users := newFixture(t)

	err := resolver.UpdateRole(users["admin"], users["owner"], server.ID, model.RoleMember)
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err))

	err = resolver.UpdateRole(users["owner"], users["member"], server.ID, model.RoleOwner)
	assert.Equal(t, errs.CodeInvalidArgument, errs.CodeOf(err))
}

func Test_UpdateRole_AdminOnAdminNeedsOwner(t *testing.T) {
	db, resolver, server, users := newFixture(t)

	err := resolver.UpdateRole(users["admin"], users["admin2"], server.ID, model.RoleMember)
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err))

	require.NoError(t, resolver.UpdateRole(users["owner"], users["admin2"], server.ID, model.RoleMember))
	membership, err := store.GetMembership(db, users["admin2"], server.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleMember, membership.Role)
}

func Test_UpdateRole_ModeratorForbidden(t *testing.T) {
	_, resolver, server, users := newFixture(t)

	err := resolver.UpdateRole(users["mod"], users["member"], server.ID, model.RoleModerator)
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err))
}
