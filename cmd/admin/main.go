// Command admin is the operator CLI: it manages users, groups and
// memberships directly against the database, and sets passwords for
// accounts that cannot run the registration exchange (such as the
// bootstrap administrator).
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/lightldap/lightldap/internal/logging"
	"github.com/lightldap/lightldap/internal/server/config"
	"github.com/lightldap/lightldap/internal/server/keys"
	"github.com/lightldap/lightldap/internal/server/repositories/repomanager"
	"github.com/lightldap/lightldap/internal/server/schema"
	"github.com/lightldap/lightldap/internal/server/services"
)

const usage = `usage: admin <command> [args]

commands:
  user-create <username> [display-name] [email]
  user-list   [filter]
  user-delete <username>
  passwd      <username>
  group-create <name>
  group-delete <name>
  member-add    <username> <group>
  member-remove <username> <group>
  bootstrap

connection flags (-d DSN, -b base DN, -c config file) are shared with the server.`

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.LoadConfig()
	if err := run(context.Background(), cfg, args[0], positional(args[1:])); err != nil {
		fmt.Fprintf(os.Stderr, "admin: %v\n", err)
		os.Exit(1)
	}
}

// positional strips the flags config.LoadConfig already consumed.
func positional(args []string) []string {
	out := make([]string, 0, len(args))
	skip := false
	for _, a := range args {
		if skip {
			skip = false
			continue
		}
		if len(a) > 0 && a[0] == '-' {
			skip = true
			continue
		}
		out = append(out, a)
	}
	return out
}

func run(ctx context.Context, cfg *config.Config, command string, args []string) error {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	sch, err := schema.New(cfg.BaseDN)
	if err != nil {
		return err
	}
	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := keys.Load(cfg.KeysDir)
	if err != nil {
		return err
	}

	repos := repomanager.NewPostgresRepositoryManager()
	dir := services.NewDirectoryService(db, repos, sch, provider.KeyRef(), logger)

	switch command {
	case "user-create":
		if len(args) < 1 {
			return fmt.Errorf("user-create: username required")
		}
		displayName, email := "", ""
		if len(args) > 1 {
			displayName = args[1]
		}
		if len(args) > 2 {
			email = args[2]
		}
		user, err := dir.CreateUser(ctx, args[0], displayName, email)
		if err != nil {
			return err
		}
		fmt.Println(sch.UserDN(user.UserName))
		return nil

	case "user-list":
		rawFilter := ""
		if len(args) > 0 {
			rawFilter = args[0]
		}
		users, truncated, err := dir.ListUsers(ctx, rawFilter, cfg.DefaultSizeLimit)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%s\t%s\t%s\n", u.UserName, u.DisplayName, u.Email)
		}
		if truncated {
			fmt.Fprintln(os.Stderr, "result truncated")
		}
		return nil

	case "user-delete":
		if len(args) < 1 {
			return fmt.Errorf("user-delete: username required")
		}
		return dir.DeleteUser(ctx, args[0])

	case "passwd":
		if len(args) < 1 {
			return fmt.Errorf("passwd: username required")
		}
		password, err := promptPassword()
		if err != nil {
			return err
		}
		return dir.SetPassword(ctx, args[0], password)

	case "group-create":
		if len(args) < 1 {
			return fmt.Errorf("group-create: name required")
		}
		group, err := dir.CreateGroup(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(sch.GroupDN(group.Name))
		return nil

	case "group-delete":
		if len(args) < 1 {
			return fmt.Errorf("group-delete: name required")
		}
		return dir.DeleteGroup(ctx, args[0])

	case "member-add":
		if len(args) < 2 {
			return fmt.Errorf("member-add: username and group required")
		}
		return dir.AddMember(ctx, args[0], args[1])

	case "member-remove":
		if len(args) < 2 {
			return fmt.Errorf("member-remove: username and group required")
		}
		return dir.RemoveMember(ctx, args[0], args[1])

	case "bootstrap":
		if err := repos.RunMigrations(ctx, db); err != nil {
			return err
		}
		return services.Bootstrap(ctx, dir, cfg.AdminUser, cfg.AdminGroup, []byte(cfg.AdminPassword))

	default:
		fmt.Fprintln(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func promptPassword() ([]byte, error) {
	fmt.Fprint(os.Stderr, "New password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	fmt.Fprint(os.Stderr, "Retype password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	if string(first) != string(second) {
		return nil, fmt.Errorf("passwords do not match")
	}
	return first, nil
}
