package config

import (
	"encoding/json"
	"os"

	"github.com/lightldap/lightldap/internal/flagx"
	"github.com/lightldap/lightldap/internal/timex"
)

// JsonConfig is the JSON-file shape of Config. Interval fields use
// timex.Duration so both "5m" and integer nanoseconds parse. It is an
// intermediate DTO: after unmarshalling, its non-empty fields are copied
// into the runtime Config.
type JsonConfig struct {
	BindAddr                     string          `json:"bind_addr"`
	DatabaseDSN                  string          `json:"database_dsn"`
	BaseDN                       string          `json:"base_dn"`
	AdminUser                    string          `json:"admin_user"`
	AdminGroup                   string          `json:"admin_group"`
	AdminPassword                string          `json:"admin_password"`
	KeysDir                      string          `json:"keys_dir"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration"`
	ExchangeTTL                  *timex.Duration `json:"exchange_ttl"`
	DefaultSizeLimit             *int            `json:"default_size_limit"`
}

// parseJson overlays configuration values from a JSON file selected by the
// -c/-config flags. If neither flag is set, nothing is loaded. If the file
// cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.BindAddr != "" {
		config.BindAddr = c.BindAddr
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.BaseDN != "" {
		config.BaseDN = c.BaseDN
	}
	if c.AdminUser != "" {
		config.AdminUser = c.AdminUser
	}
	if c.AdminGroup != "" {
		config.AdminGroup = c.AdminGroup
	}
	if c.AdminPassword != "" {
		config.AdminPassword = c.AdminPassword
	}
	if c.KeysDir != "" {
		config.KeysDir = c.KeysDir
	}
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.RefreshTokenValidityDuration != nil {
		config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	}
	if c.ExchangeTTL != nil {
		config.ExchangeTTL = c.ExchangeTTL.Duration
	}
	if c.DefaultSizeLimit != nil {
		config.DefaultSizeLimit = *c.DefaultSizeLimit
	}
}
