package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lightldap/lightldap/internal/common"
	"github.com/lightldap/lightldap/internal/cryptox"
	"github.com/lightldap/lightldap/internal/dbx"
	"github.com/lightldap/lightldap/internal/logging"
	"github.com/lightldap/lightldap/internal/server/filter"
	"github.com/lightldap/lightldap/internal/server/models"
	"github.com/lightldap/lightldap/internal/server/repositories/repomanager"
	"github.com/lightldap/lightldap/internal/server/schema"
)

// DirectoryService implements the administrative operations on users,
// groups and the membership relation.
type DirectoryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	schema      *schema.Schema
	keyRef      string
	logger      logging.Logger
}

func NewDirectoryService(db *sql.DB, m repomanager.RepositoryManager, sch *schema.Schema, keyRef string, logger logging.Logger) *DirectoryService {
	return &DirectoryService{db: db, repomanager: m, schema: sch, keyRef: keyRef, logger: logger}
}

// CreateUser registers a new user entry. The username is the stable login
// identifier; a duplicate returns common.ErrAlreadyExists.
func (s *DirectoryService) CreateUser(ctx context.Context, username, displayName, email string) (*models.User, error) {
	user := &models.User{
		ID:          uuid.NewString(),
		UserName:    username,
		DisplayName: displayName,
		Email:       email,
	}
	if err := s.repomanager.Users(s.db).Create(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "user created", "username", username)
	return user, nil
}

// GetUser returns a user with its group names populated.
func (s *DirectoryService) GetUser(ctx context.Context, username string) (*models.User, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	groups, err := repo.GroupsOf(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.Groups = groups
	return user, nil
}

// ListUsers returns users matching an optional search filter, at most limit
// entries (0 means unlimited). The boolean reports truncation.
func (s *DirectoryService) ListUsers(ctx context.Context, rawFilter string, limit int) ([]*models.User, bool, error) {
	pred, err := s.userPredicate(rawFilter)
	if err != nil {
		return nil, false, err
	}
	return s.repomanager.Users(s.db).Search(ctx, pred, limit)
}

// DeleteUser removes a user. Credentials, membership edges and refresh-token
// families cascade.
func (s *DirectoryService) DeleteUser(ctx context.Context, username string) error {
	if err := s.repomanager.Users(s.db).Delete(ctx, username); err != nil {
		return err
	}
	s.logger.Info(ctx, "user deleted", "username", username)
	return nil
}

// SetPassword stores an argon2 credential for the user, replacing whatever
// scheme was there. Meant for operator tooling and the bootstrap path; the
// key exchange flow is the normal way to set a password.
func (s *DirectoryService) SetPassword(ctx context.Context, username string, password []byte) error {
	defer common.WipeByteArray(password)

	record, err := cryptox.HashPassword(password)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.repomanager.Users(tx).GetByUsername(ctx, username)
		if err != nil {
			return err
		}
		creds := s.repomanager.Credentials(tx)
		var version int64
		if current, err := creds.Get(ctx, user.ID); err == nil {
			version = current.Version
		} else if !errors.Is(err, common.ErrNotFound) {
			return err
		}
		return creds.Put(ctx, &models.Credential{
			UserID:   user.ID,
			Scheme:   models.SchemeArgon2,
			Verifier: record,
			KeyRef:   s.keyRef,
		}, version)
	})
}

// CreateGroup adds a new, empty group. A duplicate name returns
// common.ErrAlreadyExists.
func (s *DirectoryService) CreateGroup(ctx context.Context, name string) (*models.Group, error) {
	group := &models.Group{ID: uuid.NewString(), Name: name}
	if err := s.repomanager.Groups(s.db).Create(ctx, group); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "group created", "group", name)
	return group, nil
}

// GetGroup returns a group with its member usernames populated.
func (s *DirectoryService) GetGroup(ctx context.Context, name string) (*models.Group, error) {
	repo := s.repomanager.Groups(s.db)
	group, err := repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	members, err := repo.MembersOf(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	group.Members = members
	return group, nil
}

// ListGroups returns groups matching an optional search filter.
func (s *DirectoryService) ListGroups(ctx context.Context, rawFilter string, limit int) ([]*models.Group, bool, error) {
	var pred *filter.Predicate
	if rawFilter == "" {
		pred = &filter.Predicate{SQL: "TRUE"}
	} else {
		node, err := filter.Parse(rawFilter)
		if err != nil {
			return nil, false, err
		}
		pred, err = filter.CompileGroups(node, s.schema)
		if err != nil {
			return nil, false, err
		}
	}
	return s.repomanager.Groups(s.db).Search(ctx, pred, limit)
}

// DeleteGroup removes a group; membership edges cascade. Member users are
// untouched.
func (s *DirectoryService) DeleteGroup(ctx context.Context, name string) error {
	if err := s.repomanager.Groups(s.db).Delete(ctx, name); err != nil {
		return err
	}
	s.logger.Info(ctx, "group deleted", "group", name)
	return nil
}

// AddMember puts a user into a group. Adding an existing member is a no-op.
func (s *DirectoryService) AddMember(ctx context.Context, username, groupName string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.repomanager.Users(tx).GetByUsername(ctx, username)
		if err != nil {
			return err
		}
		group, err := s.repomanager.Groups(tx).GetByName(ctx, groupName)
		if err != nil {
			return err
		}
		return s.repomanager.Groups(tx).AddMember(ctx, user.ID, group.ID)
	})
}

// RemoveMember takes a user out of a group.
func (s *DirectoryService) RemoveMember(ctx context.Context, username, groupName string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.repomanager.Users(tx).GetByUsername(ctx, username)
		if err != nil {
			return err
		}
		group, err := s.repomanager.Groups(tx).GetByName(ctx, groupName)
		if err != nil {
			return err
		}
		return s.repomanager.Groups(tx).RemoveMember(ctx, user.ID, group.ID)
	})
}

func (s *DirectoryService) userPredicate(rawFilter string) (*filter.Predicate, error) {
	if rawFilter == "" {
		return &filter.Predicate{SQL: "TRUE"}, nil
	}
	node, err := filter.Parse(rawFilter)
	if err != nil {
		return nil, err
	}
	return filter.CompileUsers(node, s.schema)
}
