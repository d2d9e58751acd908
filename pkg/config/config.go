// Package config initializes the application's configuration. It uses the
// Viper library to read settings from a config file and environment
// variables, providing a unified configuration system.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Credential carries one site's connection settings from the config file.
type Credential struct {
	Cookie    string `mapstructure:"cookie"`
	UserAgent string `mapstructure:"user_agent"`
	Proxy     string `mapstructure:"proxy"`
}

// Init loads configuration with Viper: the given file when set, otherwise
// a config.yaml searched in the working directory and ~/.ptspider. A
// missing file is not an error; defaults and PTSPIDER_* environment
// variables still apply.
func Init(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.ptspider")
	}

	viper.SetDefault("sites_dir", "sites")
	viper.SetDefault("logging.development", false)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("search.timeout", "10s")
	viper.SetDefault("search.all_pages", false)
	viper.SetDefault("search.error_waiting_time", "600s")
	viper.SetDefault("download.dir", ".")

	viper.SetEnvPrefix("PTSPIDER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// SitesDir returns the directory holding the site profile YAML files.
func SitesDir() string { return viper.GetString("sites_dir") }

// Development reports whether the console logger should be used.
func Development() bool { return viper.GetBool("logging.development") }

// LogLevel returns the configured log level name.
func LogLevel() string { return viper.GetString("logging.level") }

// SearchTimeout returns the per-request timeout for search operations.
func SearchTimeout() time.Duration { return viper.GetDuration("search.timeout") }

// AllPages reports whether searches should walk every result page.
func AllPages() bool { return viper.GetBool("search.all_pages") }

// ErrorWaitingTime bounds how long failing operations keep retrying.
func ErrorWaitingTime() time.Duration { return viper.GetDuration("search.error_waiting_time") }

// DownloadDir returns the directory torrent files are written to.
func DownloadDir() string { return viper.GetString("download.dir") }

// Credentials decodes the per-site credential table keyed by site id.
func Credentials() (map[string]Credential, error) {
	out := map[string]Credential{}
	if err := viper.UnmarshalKey("sites", &out); err != nil {
		return nil, fmt.Errorf("decode site credentials: %w", err)
	}
	return out, nil
}
