package services

import (
	"context"
	"errors"

	"github.com/lightldap/lightldap/internal/common"
)

// Bootstrap makes sure the administrator account exists: the admin user, the
// admin group and the membership edge between them. The password is only set
// when the user is created, so a rotated admin password survives restarts.
// Safe to run on every startup.
func Bootstrap(ctx context.Context, dir *DirectoryService, adminUser, adminGroup string, adminPassword []byte) error {
	created := false
	_, err := dir.GetUser(ctx, adminUser)
	if errors.Is(err, common.ErrNotFound) {
		if _, err = dir.CreateUser(ctx, adminUser, "Administrator", ""); err != nil && !errors.Is(err, common.ErrAlreadyExists) {
			return err
		}
		created = err == nil
	} else if err != nil {
		return err
	}

	if _, err := dir.CreateGroup(ctx, adminGroup); err != nil && !errors.Is(err, common.ErrAlreadyExists) {
		return err
	}

	if err := dir.AddMember(ctx, adminUser, adminGroup); err != nil {
		return err
	}

	if created {
		pw := make([]byte, len(adminPassword))
		copy(pw, adminPassword)
		if err := dir.SetPassword(ctx, adminUser, pw); err != nil {
			return err
		}
		dir.logger.Info(ctx, "bootstrap administrator created", "username", adminUser)
	}
	return nil
}
