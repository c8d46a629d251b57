package repomanager

import (
	"context"
	"database/sql"

	"github.com/lightldap/lightldap/internal/dbx"
	"github.com/lightldap/lightldap/internal/server/repositories/credentials"
	"github.com/lightldap/lightldap/internal/server/repositories/groups"
	"github.com/lightldap/lightldap/internal/server/repositories/tokenfamilies"
	"github.com/lightldap/lightldap/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so services can use
// the same repository code inside and outside transactions.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Groups(db dbx.DBTX) groups.Repository
	Credentials(db dbx.DBTX) credentials.Repository
	TokenFamilies(db dbx.DBTX) tokenfamilies.Repository
}
