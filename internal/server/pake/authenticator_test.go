package pake

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightldap/lightldap/internal/common"
	"github.com/lightldap/lightldap/internal/cryptox"
	"github.com/lightldap/lightldap/internal/logging"
	"github.com/lightldap/lightldap/internal/server/filter"
	"github.com/lightldap/lightldap/internal/server/models"
)

// fakeSuite is a deterministic stand-in for the OPAQUE library: messages
// carry the password in the clear, a verifier is just the password bytes.
// It exists to test the exchange lifecycle, not the cryptography.
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

type fakeUsers struct {
	byName map[string]*models.User
}

func (f *fakeUsers) Create(ctx context.Context, u *models.User) error { f.byName[u.UserName] = u; return nil }
func (f *fakeUsers) GetByUsername(ctx context.Context, name string) (*models.User, error) {
	u, ok := f.byName[name]
	if !ok {
		return nil, common.ErrNotFound
	}
	return u, nil
}
func (f *fakeUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, common.ErrNotFound
}
func (f *fakeUsers) Search(ctx context.Context, p *filter.Predicate, limit int) ([]*models.User, bool, error) {
	return nil, false, nil
}
func (f *fakeUsers) GroupsOf(ctx context.Context, id string) ([]string, error) { return nil, nil }
func (f *fakeUsers) Delete(ctx context.Context, name string) error             { return nil }

type fakeCreds struct {
	live      map[string]*models.Credential
	pending   map[string]models.PendingRegistration
	commitErr error
}

func newFakeCreds() *fakeCreds {
	return &fakeCreds{
		live:    make(map[string]*models.Credential),
		pending: make(map[string]models.PendingRegistration),
	}
}

func (f *fakeCreds) Get(ctx context.Context, userID string) (*models.Credential, error) {
	c, ok := f.live[userID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return c, nil
}

func (f *fakeCreds) Put(ctx context.Context, cred *models.Credential, expectedVersion int64) error {
	cur, ok := f.live[cred.UserID]
	var version int64
	if ok {
		version = cur.Version
	}
	if version != expectedVersion {
		return common.ErrVersionConflict
	}
	cred.Version = version + 1
	f.live[cred.UserID] = cred
	return nil
}

func (f *fakeCreds) BeginRegistration(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.pending[userID] = models.PendingRegistration{UserID: userID, Token: token, ExpiresAt: expiresAt}
	return nil
}

func (f *fakeCreds) CommitRegistration(ctx context.Context, userID, token string, cred *models.Credential) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	p, ok := f.pending[userID]
	if !ok || p.Token != token {
		return common.ErrVersionConflict
	}
	if time.Now().After(p.ExpiresAt) {
		return common.ErrExpiredExchange
	}
	delete(f.pending, userID)
	cred.Version++
	f.live[userID] = cred
	return nil
}

type fakeKeys struct{}

func (fakeKeys) KeyRef() string    { return "testkey" }
func (fakeKeys) DecoySeed() []byte { return bytes.Repeat([]byte{7}, 32) }

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func newTestAuthenticator(ttl time.Duration) (*Authenticator, *fakeUsers, *fakeCreds) {
	users := &fakeUsers{byName: map[string]*models.User{
		"alice": {ID: "u1", UserName: "alice"},
	}}
	creds := newFakeCreds()
	a := NewAuthenticator(fakeSuite{}, users, creds, fakeKeys{}, ttl, testLogger())
	return a, users, creds
}

func registerPassword(t *testing.T, a *Authenticator, username, password string) {
	t.Helper()
	ctx := context.Background()
	id, reply, err := a.RegisterStart(ctx, username, []byte(password))
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	require.NoError(t, a.RegisterFinish(ctx, id, []byte(password)))
}

func runLogin(t *testing.T, a *Authenticator, username, password string) (string, error) {
	t.Helper()
	ctx := context.Background()
	id, reply, err := a.LoginStart(ctx, username, []byte(password))
	if err != nil {
		return "", err
	}
	require.NotEmpty(t, reply)
	return a.LoginFinish(ctx, id, []byte(password))
}

func TestRegisterThenLogin(t *testing.T) {
	a, _, creds := newTestAuthenticator(0)
	registerPassword(t, a, "alice", "P1")

	require.Len(t, creds.live, 1)
	assert.Equal(t, models.SchemeOpaque, creds.live["u1"].Scheme)
	assert.Equal(t, "testkey", creds.live["u1"].KeyRef)

	got, err := runLogin(t, a, "alice", "P1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
}

func TestLogin_WrongPassword(t *testing.T) {
	a, _, _ := newTestAuthenticator(0)
	registerPassword(t, a, "alice", "P1")

	_, err := runLogin(t, a, "alice", "wrong")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestLogin_UnknownUserIndistinguishable(t *testing.T) {
	a, _, _ := newTestAuthenticator(0)
	registerPassword(t, a, "alice", "P1")
	ctx := context.Background()

	// The start of the exchange looks exactly like a real one.
	idWrong, replyWrong, err := a.LoginStart(ctx, "alice", []byte("wrong"))
	require.NoError(t, err)
	idGhost, replyGhost, err := a.LoginStart(ctx, "ghost", []byte("whatever"))
	require.NoError(t, err)
	assert.NotEmpty(t, replyWrong)
	assert.NotEmpty(t, replyGhost)
	assert.Len(t, idGhost, len(idWrong))

	_, errWrong := a.LoginFinish(ctx, idWrong, []byte("wrong"))
	_, errGhost := a.LoginFinish(ctx, idGhost, []byte("whatever"))
	assert.ErrorIs(t, errWrong, common.ErrInvalidCredentials)
	assert.ErrorIs(t, errGhost, common.ErrInvalidCredentials)
	assert.Equal(t, errWrong.Error(), errGhost.Error())
}

func TestLogin_DecoyNeverSucceeds(t *testing.T) {
	a, _, _ := newTestAuthenticator(0)
	ctx := context.Background()

	// Even a "correct" proof against the decoy verifier must fail.
	id, _, err := a.LoginStart(ctx, "ghost", []byte("pw"))
	require.NoError(t, err)
	decoy := a.decoyVerifier()
	_, err = a.LoginFinish(ctx, id, decoy)
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestExchange_SingleUse(t *testing.T) {
	a, _, _ := newTestAuthenticator(0)
	registerPassword(t, a, "alice", "P1")
	ctx := context.Background()

	id, _, err := a.LoginStart(ctx, "alice", []byte("P1"))
	require.NoError(t, err)
	_, err = a.LoginFinish(ctx, id, []byte("P1"))
	require.NoError(t, err)

	// The exchange is consumed; replaying the finish fails.
	_, err = a.LoginFinish(ctx, id, []byte("P1"))
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestExchange_TimeBox(t *testing.T) {
	a, _, _ := newTestAuthenticator(time.Millisecond)
	ctx := context.Background()

	id, _, err := a.RegisterStart(ctx, "alice", []byte("P1"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	err = a.RegisterFinish(ctx, id, []byte("P1"))
	assert.ErrorIs(t, err, common.ErrExpiredExchange)
}

func TestRegisterFinish_CommitConflictAbortsFlow(t *testing.T) {
	a, _, creds := newTestAuthenticator(0)
	ctx := context.Background()

	id, _, err := a.RegisterStart(ctx, "alice", []byte("P1"))
	require.NoError(t, err)
	creds.commitErr = common.ErrVersionConflict

	err = a.RegisterFinish(ctx, id, []byte("P1"))
	assert.ErrorIs(t, err, common.ErrVersionConflict)
	assert.Empty(t, creds.live)

	// The exchange is terminal: retrying with the same id fails.
	err = a.RegisterFinish(ctx, id, []byte("P1"))
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestRegisterStart_UnknownUser(t *testing.T) {
	a, _, _ := newTestAuthenticator(0)
	_, _, err := a.RegisterStart(context.Background(), "ghost", []byte("P1"))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestVerifyPassword_OpaqueScheme(t *testing.T) {
	a, _, _ := newTestAuthenticator(0)
	registerPassword(t, a, "alice", "P1")
	ctx := context.Background()

	assert.NoError(t, a.VerifyPassword(ctx, "alice", "P1"))
	assert.ErrorIs(t, a.VerifyPassword(ctx, "alice", "nope"), common.ErrInvalidCredentials)
	assert.ErrorIs(t, a.VerifyPassword(ctx, "ghost", "P1"), common.ErrInvalidCredentials)
}

func TestVerifyPassword_Argon2Scheme(t *testing.T) {
	a, _, creds := newTestAuthenticator(0)
	ctx := context.Background()

	record, err := cryptox.HashPassword([]byte("admin-pw"))
	require.NoError(t, err)
	creds.live["u1"] = &models.Credential{
		UserID: "u1", Scheme: models.SchemeArgon2, Verifier: record, Version: 1,
	}

	assert.NoError(t, a.VerifyPassword(ctx, "alice", "admin-pw"))
	assert.ErrorIs(t, a.VerifyPassword(ctx, "alice", "wrong"), common.ErrInvalidCredentials)
}
