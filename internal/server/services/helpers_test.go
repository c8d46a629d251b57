package services

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lightldap/lightldap/internal/common"
	"github.com/lightldap/lightldap/internal/dbx"
	"github.com/lightldap/lightldap/internal/logging"
	"github.com/lightldap/lightldap/internal/server/filter"
	"github.com/lightldap/lightldap/internal/server/models"
	credsrepo "github.com/lightldap/lightldap/internal/server/repositories/credentials"
	groupsrepo "github.com/lightldap/lightldap/internal/server/repositories/groups"
	"github.com/lightldap/lightldap/internal/server/repositories/repomanager"
	tokenfamiliesrepo "github.com/lightldap/lightldap/internal/server/repositories/tokenfamilies"
	usersrepo "github.com/lightldap/lightldap/internal/server/repositories/users"
)

// --- helpers ---

// memStore is a shared in-memory backing store for the fake repositories.
// Repository fakes ignore the DBTX they are vended with.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User       // by id
	creds    map[string]*models.Credential // by user id
	pending  map[string]models.PendingRegistration
	groups   map[string]*models.Group   // by id
	edges    map[string]map[string]bool // group id -> user id set
	families map[string]*models.RefreshTokenFamily
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*models.User),
		creds:    make(map[string]*models.Credential),
		pending:  make(map[string]models.PendingRegistration),
		groups:   make(map[string]*models.Group),
		edges:    make(map[string]map[string]bool),
		families: make(map[string]*models.RefreshTokenFamily),
	}
}

type memUsersRepo struct {
	st       *memStore
	lastPred *filter.Predicate
}

func (r *memUsersRepo) Create(_ context.Context, user *models.User) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, u := range r.st.users {
		if strings.EqualFold(u.UserName, user.UserName) {
			return common.ErrAlreadyExists
		}
	}
	cp := *user
	cp.UserName = strings.ToLower(cp.UserName)
	r.st.users[cp.ID] = &cp
	return nil
}

func (r *memUsersRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, u := range r.st.users {
		if strings.EqualFold(u.UserName, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	u, ok := r.st.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUsersRepo) Search(_ context.Context, pred *filter.Predicate, limit int) ([]*models.User, bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.lastPred = pred
	var out []*models.User
	for _, u := range r.st.users {
		cp := *u
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		return out[:limit], true, nil
	}
	return out, false, nil
}

func (r *memUsersRepo) GroupsOf(_ context.Context, userID string) ([]string, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var names []string
	for groupID, members := range r.st.edges {
		if members[userID] {
			names = append(names, r.st.groups[groupID].Name)
		}
	}
	return names, nil
}

func (r *memUsersRepo) Delete(_ context.Context, username string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for id, u := range r.st.users {
		if strings.EqualFold(u.UserName, username) {
			delete(r.st.users, id)
			delete(r.st.creds, id)
			for _, members := range r.st.edges {
				delete(members, id)
			}
			return nil
		}
	}
	return common.ErrNotFound
}

type memGroupsRepo struct {
	st *memStore
}

func (r *memGroupsRepo) Create(_ context.Context, group *models.Group) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, g := range r.st.groups {
		if strings.EqualFold(g.Name, group.Name) {
			return common.ErrAlreadyExists
		}
	}
	cp := *group
	r.st.groups[cp.ID] = &cp
	r.st.edges[cp.ID] = make(map[string]bool)
	return nil
}

func (r *memGroupsRepo) GetByName(_ context.Context, name string) (*models.Group, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, g := range r.st.groups {
		if strings.EqualFold(g.Name, name) {
			cp := *g
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memGroupsRepo) Search(_ context.Context, _ *filter.Predicate, limit int) ([]*models.Group, bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []*models.Group
	for _, g := range r.st.groups {
		cp := *g
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		return out[:limit], true, nil
	}
	return out, false, nil
}

func (r *memGroupsRepo) AddMember(_ context.Context, userID, groupID string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	members, ok := r.st.edges[groupID]
	if !ok {
		return common.ErrNotFound
	}
	members[userID] = true
	return nil
}

func (r *memGroupsRepo) RemoveMember(_ context.Context, userID, groupID string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	delete(r.st.edges[groupID], userID)
	return nil
}

func (r *memGroupsRepo) MembersOf(_ context.Context, groupID string) ([]string, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var names []string
	for userID := range r.st.edges[groupID] {
		names = append(names, r.st.users[userID].UserName)
	}
	return names, nil
}

func (r *memGroupsRepo) Delete(_ context.Context, name string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for id, g := range r.st.groups {
		if strings.EqualFold(g.Name, name) {
			delete(r.st.groups, id)
			delete(r.st.edges, id)
			return nil
		}
	}
	return common.ErrNotFound
}

type memCredsRepo struct {
	st *memStore
}

func (r *memCredsRepo) Get(_ context.Context, userID string) (*models.Credential, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cred, ok := r.st.creds[userID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (r *memCredsRepo) Put(_ context.Context, cred *models.Credential, expectedVersion int64) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	current, ok := r.st.creds[cred.UserID]
	var version int64
	if ok {
		version = current.Version
	}
	if version != expectedVersion {
		return common.ErrVersionConflict
	}
	cp := *cred
	cp.Version = version + 1
	r.st.creds[cred.UserID] = &cp
	return nil
}

func (r *memCredsRepo) BeginRegistration(_ context.Context, userID, token string, expiresAt time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.pending[userID] = models.PendingRegistration{UserID: userID, Token: token, ExpiresAt: expiresAt}
	return nil
}

func (r *memCredsRepo) CommitRegistration(_ context.Context, userID, token string, cred *models.Credential) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	p, ok := r.st.pending[userID]
	if !ok || p.Token != token {
		return common.ErrVersionConflict
	}
	if time.Now().After(p.ExpiresAt) {
		return common.ErrExpiredExchange
	}
	delete(r.st.pending, userID)
	var version int64
	if current, ok := r.st.creds[userID]; ok {
		version = current.Version
	}
	cp := *cred
	cp.Version = version + 1
	r.st.creds[userID] = &cp
	return nil
}

type memFamiliesRepo struct {
	st *memStore
}

func (r *memFamiliesRepo) Create(_ context.Context, family *models.RefreshTokenFamily) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cp := *family
	r.st.families[family.UserID+"/"+family.FamilyID] = &cp
	return nil
}

func (r *memFamiliesRepo) GetForUpdate(_ context.Context, userID, familyID string) (*models.RefreshTokenFamily, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	row, ok := r.st.families[userID+"/"+familyID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *memFamiliesRepo) Advance(_ context.Context, userID, familyID string, seq int64, secretHash []byte) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	row, ok := r.st.families[userID+"/"+familyID]
	if !ok || row.LastSequence != seq {
		return common.ErrVersionConflict
	}
	row.LastSequence = seq + 1
	row.SecretHash = secretHash
	return nil
}

func (r *memFamiliesRepo) Delete(_ context.Context, userID, familyID string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	delete(r.st.families, userID+"/"+familyID)
	return nil
}

func (r *memFamiliesRepo) DeleteAllForUser(_ context.Context, userID string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for k, row := range r.st.families {
		if row.UserID == userID {
			delete(r.st.families, k)
		}
	}
	return nil
}

func (r *memFamiliesRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	now := time.Now()
	for k, row := range r.st.families {
		if row.ExpiresAt.Before(now) {
			delete(r.st.families, k)
			n++
		}
	}
	return n, nil
}

type memRepos struct {
	st       *memStore
	usersR   *memUsersRepo
	groupsR  *memGroupsRepo
	credsR   *memCredsRepo
	families *memFamiliesRepo
}

func newMemRepos() *memRepos {
	st := newMemStore()
	return &memRepos{
		st:       st,
		usersR:   &memUsersRepo{st: st},
		groupsR:  &memGroupsRepo{st: st},
		credsR:   &memCredsRepo{st: st},
		families: &memFamiliesRepo{st: st},
	}
}

func (m *memRepos) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memRepos) Users(dbx.DBTX) usersrepo.Repository          { return m.usersR }
func (m *memRepos) Groups(dbx.DBTX) groupsrepo.Repository        { return m.groupsR }
func (m *memRepos) Credentials(dbx.DBTX) credsrepo.Repository    { return m.credsR }
func (m *memRepos) TokenFamilies(dbx.DBTX) tokenfamiliesrepo.Repository {
	return m.families
}

var _ repomanager.RepositoryManager = (*memRepos)(nil)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:services_tests?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
