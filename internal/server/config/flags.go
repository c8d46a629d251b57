package config

import (
	"flag"
	"os"
	"time"

	"github.com/lightldap/lightldap/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   listen address (e.g., ":3890")
//	-d string   PostgreSQL DSN
//	-b string   base DN (e.g., "dc=example,dc=com")
//	-u string   bootstrap admin username
//	-g string   admin group name
//	-k string   key material directory
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-l int      default search size limit (0 = unlimited)
//
// The args are first filtered to the flags handled here using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers in minutes.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-b", "-u", "-g", "-k", "-t", "-r", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.BindAddr, "a", config.BindAddr, "address and port to listen on")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.BaseDN, "b", config.BaseDN, "base DN of the directory namespace")
	fs.StringVar(&config.AdminUser, "u", config.AdminUser, "bootstrap admin username")
	fs.StringVar(&config.AdminGroup, "g", config.AdminGroup, "admin group name")
	fs.StringVar(&config.KeysDir, "k", config.KeysDir, "key material directory")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh token validity (in minutes)")
	fs.IntVar(&config.DefaultSizeLimit, "l", config.DefaultSizeLimit, "default search size limit")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
}
