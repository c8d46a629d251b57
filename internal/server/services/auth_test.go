package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightldap/lightldap/internal/common"
	"github.com/lightldap/lightldap/internal/server/pake"
	"github.com/lightldap/lightldap/internal/server/schema"
	"github.com/lightldap/lightldap/internal/server/tokens"
)

// fakeSuite stands in for the OPAQUE library: messages carry the password in
// the clear and the verifier is just the password bytes.
type fakeSuite struct{}

func (fakeSuite) RegisterStart(request []byte) (any, []byte, error) {
	return request, []byte("reg-reply"), nil
}

func (fakeSuite) RegisterFinish(state any, upload []byte) ([]byte, error) {
	return upload, nil
}

func (fakeSuite) LoginStart(verifier, request []byte) (any, []byte, error) {
	return [2][]byte{verifier, request}, []byte("login-reply"), nil
}

func (fakeSuite) LoginFinish(state any, proof []byte) ([]byte, error) {
	s := state.([2][]byte)
	if !bytes.Equal(s[0], proof) {
		return nil, errors.New("bad proof")
	}
	return []byte("session-key"), nil
}

func (fakeSuite) ClientRegisterStart(username, password string) (any, []byte, error) {
	return []byte(password), []byte(password), nil
}

func (fakeSuite) ClientRegisterFinish(state any, reply []byte) ([]byte, error) {
	return state.([]byte), nil
}

func (fakeSuite) ClientLoginStart(username, password string) (any, []byte, error) {
	return []byte(password), []byte(password), nil
}

func (fakeSuite) ClientLoginFinish(state any, reply []byte) ([]byte, []byte, error) {
	return state.([]byte), []byte("client-key"), nil
}

type fakeKeys struct{}

func (fakeKeys) KeyRef() string    { return "key-1" }
func (fakeKeys) DecoySeed() []byte { return bytes.Repeat([]byte{7}, 32) }

type fakeSigner struct{}

func (fakeSigner) SigningSecret() []byte { return []byte("services-test-secret") }

func newAuthService(t *testing.T) (*AuthService, *DirectoryService) {
	t.Helper()
	db := testDB(t)
	repos := newMemRepos()
	sch, err := schema.New("dc=example,dc=com")
	require.NoError(t, err)

	authenticator := pake.NewAuthenticator(fakeSuite{}, repos.usersR, repos.credsR,
		fakeKeys{}, time.Minute, testLogger())
	issuer := tokens.NewIssuer(db, repos, fakeSigner{}, time.Minute, time.Hour, testLogger())
	dir := NewDirectoryService(db, repos, sch, "key-1", testLogger())
	svc := NewAuthService(authenticator, issuer, repos.usersR, "admins", testLogger())
	return svc, dir
}

// registerPassword drives a full registration exchange from the client side.
func registerPassword(t *testing.T, svc *AuthService, username, password string) {
	t.Helper()
	ctx := context.Background()
	suite := fakeSuite{}

	cState, request, err := suite.ClientRegisterStart(username, password)
	require.NoError(t, err)
	id, reply, err := svc.RegisterBegin(ctx, username, request)
	require.NoError(t, err)
	upload, err := suite.ClientRegisterFinish(cState, reply)
	require.NoError(t, err)
	require.NoError(t, svc.RegisterFinish(ctx, id, upload))
}

// login drives a full login exchange from the client side.
func login(svc *AuthService, username, password string) (*tokens.Pair, error) {
	ctx := context.Background()
	suite := fakeSuite{}

	cState, request, err := suite.ClientLoginStart(username, password)
	if err != nil {
		return nil, err
	}
	id, reply, err := svc.LoginBegin(ctx, username, request)
	if err != nil {
		return nil, err
	}
	proof, _, err := suite.ClientLoginFinish(cState, reply)
	if err != nil {
		return nil, err
	}
	return svc.LoginFinish(ctx, id, proof)
}

func TestLogin_IssuesUserScopedPair(t *testing.T) {
	svc, dir := newAuthService(t)
	ctx := context.Background()

	_, err := dir.CreateUser(ctx, "alice", "Alice", "")
	require.NoError(t, err)
	registerPassword(t, svc, "alice", "correct horse")

	pair, err := login(svc, "alice", "correct horse")
	require.NoError(t, err)

	claims, err := svc.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, tokens.ScopeUser, claims.Scope)
}

func TestLogin_AdminGroupGrantsAdminScope(t *testing.T) {
	svc, dir := newAuthService(t)
	ctx := context.Background()

	_, err := dir.CreateUser(ctx, "alice", "", "")
	require.NoError(t, err)
	_, err = dir.CreateGroup(ctx, "admins")
	require.NoError(t, err)
	require.NoError(t, dir.AddMember(ctx, "alice", "admins"))
	registerPassword(t, svc, "alice", "pw")

	pair, err := login(svc, "alice", "pw")
	require.NoError(t, err)

	claims, err := svc.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.ScopeAdmin, claims.Scope)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, dir := newAuthService(t)
	ctx := context.Background()

	_, err := dir.CreateUser(ctx, "alice", "", "")
	require.NoError(t, err)
	registerPassword(t, svc, "alice", "right")

	_, err = login(svc, "alice", "wrong")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestLogin_UnknownUser(t *testing.T) {
	svc, _ := newAuthService(t)

	_, err := login(svc, "ghost", "anything")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestRefreshAndLogout(t *testing.T) {
	svc, dir := newAuthService(t)
	ctx := context.Background()

	_, err := dir.CreateUser(ctx, "alice", "", "")
	require.NoError(t, err)
	registerPassword(t, svc, "alice", "pw")

	pair, err := login(svc, "alice", "pw")
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	require.NoError(t, svc.Logout(ctx, next.RefreshToken))
	_, err = svc.Refresh(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestRegisterBegin_UnknownUser(t *testing.T) {
	svc, _ := newAuthService(t)

	_, _, err := svc.RegisterBegin(context.Background(), "ghost", []byte("req"))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestVerifyPassword_SimpleBindPath(t *testing.T) {
	svc, dir := newAuthService(t)
	ctx := context.Background()

	_, err := dir.CreateUser(ctx, "alice", "", "")
	require.NoError(t, err)
	registerPassword(t, svc, "alice", "pw")

	assert.NoError(t, svc.VerifyPassword(ctx, "alice", "pw"))
	assert.ErrorIs(t, svc.VerifyPassword(ctx, "alice", "nope"), common.ErrInvalidCredentials)
	assert.ErrorIs(t, svc.VerifyPassword(ctx, "ghost", "pw"), common.ErrInvalidCredentials)
}
