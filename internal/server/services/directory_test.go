package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightldap/lightldap/internal/common"
	"github.com/lightldap/lightldap/internal/cryptox"
	"github.com/lightldap/lightldap/internal/server/models"
	"github.com/lightldap/lightldap/internal/server/schema"
)

func newDirectoryService(t *testing.T) (*DirectoryService, *memRepos) {
	t.Helper()
	sch, err := schema.New("dc=example,dc=com")
	require.NoError(t, err)
	repos := newMemRepos()
	return NewDirectoryService(testDB(t), repos, sch, "key-1", testLogger()), repos
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	svc, _ := newDirectoryService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "alice", "Alice", "alice@example.com")
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, "Alice", "Other", "")
	assert.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestGetUser_PopulatesGroups(t *testing.T) {
	svc, _ := newDirectoryService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "alice", "Alice", "")
	require.NoError(t, err)
	_, err = svc.CreateGroup(ctx, "admins")
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, "alice", "admins"))

	user, err := svc.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"admins"}, user.Groups)
}

func TestAddMember_UnknownUserOrGroup(t *testing.T) {
	svc, _ := newDirectoryService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "alice", "", "")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.AddMember(ctx, "ghost", "admins"), common.ErrNotFound)
	assert.ErrorIs(t, svc.AddMember(ctx, "alice", "nope"), common.ErrNotFound)
}

func TestRemoveMember(t *testing.T) {
	svc, _ := newDirectoryService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "bob", "", "")
	require.NoError(t, err)
	_, err = svc.CreateGroup(ctx, "staff")
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, "bob", "staff"))
	require.NoError(t, svc.RemoveMember(ctx, "bob", "staff"))

	group, err := svc.GetGroup(ctx, "staff")
	require.NoError(t, err)
	assert.Empty(t, group.Members)
}

func TestDeleteUser_CleansUp(t *testing.T) {
	svc, repos := newDirectoryService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "carol", "", "")
	require.NoError(t, err)
	require.NoError(t, svc.SetPassword(ctx, "carol", []byte("s3cret")))
	require.NoError(t, svc.DeleteUser(ctx, "carol"))

	_, err = svc.GetUser(ctx, "carol")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Empty(t, repos.st.creds)
}

func TestSetPassword_StoresArgon2Verifier(t *testing.T) {
	svc, repos := newDirectoryService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "alice", "", "")
	require.NoError(t, err)
	require.NoError(t, svc.SetPassword(ctx, "alice", []byte("correct horse")))

	cred := repos.st.creds[user.ID]
	require.NotNil(t, cred)
	assert.Equal(t, models.SchemeArgon2, cred.Scheme)
	assert.Equal(t, "key-1", cred.KeyRef)
	assert.True(t, cryptox.VerifyPassword(cred.Verifier, []byte("correct horse")))
	assert.False(t, cryptox.VerifyPassword(cred.Verifier, []byte("wrong")))
}

func TestSetPassword_RotatesVersion(t *testing.T) {
	svc, repos := newDirectoryService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "alice", "", "")
	require.NoError(t, err)
	require.NoError(t, svc.SetPassword(ctx, "alice", []byte("one")))
	require.NoError(t, svc.SetPassword(ctx, "alice", []byte("two")))

	cred := repos.st.creds[user.ID]
	assert.Equal(t, int64(2), cred.Version)
	assert.True(t, cryptox.VerifyPassword(cred.Verifier, []byte("two")))
}

func TestSetPassword_WipesInput(t *testing.T) {
	svc, _ := newDirectoryService(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "alice", "", "")
	require.NoError(t, err)

	password := []byte("ephemeral")
	require.NoError(t, svc.SetPassword(ctx, "alice", password))
	for _, b := range password {
		assert.Zero(t, b)
	}
}

func TestListUsers_FilterErrors(t *testing.T) {
	svc, _ := newDirectoryService(t)
	ctx := context.Background()

	_, _, err := svc.ListUsers(ctx, "(uid=alice", 0)
	assert.Error(t, err)

	_, _, err = svc.ListUsers(ctx, "(shoeSize=42)", 0)
	assert.ErrorIs(t, err, common.ErrUnknownAttribute)
}

func TestListUsers_Truncation(t *testing.T) {
	svc, _ := newDirectoryService(t)
	ctx := context.Background()

	for _, name := range []string{"u1", "u2", "u3"} {
		_, err := svc.CreateUser(ctx, name, "", "")
		require.NoError(t, err)
	}

	users, truncated, err := svc.ListUsers(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.True(t, truncated)
}

func TestBootstrap_CreatesAdminOnce(t *testing.T) {
	svc, repos := newDirectoryService(t)
	ctx := context.Background()

	require.NoError(t, Bootstrap(ctx, svc, "admin", "admins", []byte("bootstrap-pw")))

	admin, err := svc.GetUser(ctx, "admin")
	require.NoError(t, err)
	assert.Contains(t, admin.Groups, "admins")
	cred := repos.st.creds[admin.ID]
	require.NotNil(t, cred)
	assert.True(t, cryptox.VerifyPassword(cred.Verifier, []byte("bootstrap-pw")))

	// A later password change survives a restart.
	require.NoError(t, svc.SetPassword(ctx, "admin", []byte("rotated")))
	require.NoError(t, Bootstrap(ctx, svc, "admin", "admins", []byte("bootstrap-pw")))
	cred = repos.st.creds[admin.ID]
	assert.True(t, cryptox.VerifyPassword(cred.Verifier, []byte("rotated")))
}
