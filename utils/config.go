package utils

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the configuration for the application
type Config struct {
	RootPath       string   `mapstructure:"root_path"`       // Root path of the notes.
	Editor         string   `mapstructure:"editor"`          // Editor to open the notes with
	Extensions     []string `mapstructure:"extensions"`      // Extensions of notes to be indexed
	MailExtensions []string `mapstructure:"mail_extensions"` // Extensions of mail files to be indexed

	DataDir     string        `mapstructure:"data_dir"`      // Where the encrypted indexes and keys live
	Backend     string        `mapstructure:"backend"`       // Storage backend, pebble or sqlite
	UserID      string        `mapstructure:"user_id"`       // Owner of the indexes
	SaveWait    time.Duration `mapstructure:"save_wait"`     // Quiet period before an index is saved
	SaveMaxWait time.Duration `mapstructure:"save_max_wait"` // Longest a save is postponed
	RecentLimit int           `mapstructure:"recent_limit"`  // Results shown for an empty query

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"` // Empty logs to stderr
}

// DefaultConfigPath is where NewConfig looks for the config file.
func DefaultConfigPath() string {
	homedir, _ := os.UserHomeDir()
	return path.Join(homedir, "/.config/notes_vault/config.yaml")
}

func setDefaults(v *viper.Viper) {
	homedir, _ := os.UserHomeDir()
	dataDir := path.Join(homedir, "/.local/share/notes_vault")

	v.SetDefault("editor", "vim")
	v.SetDefault("extensions", []string{".md"})
	v.SetDefault("mail_extensions", []string{".eml"})
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("backend", "pebble")
	v.SetDefault("user_id", "local")
	v.SetDefault("save_wait", 5*time.Second)
	v.SetDefault("save_max_wait", 30*time.Second)
	v.SetDefault("recent_limit", 10)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", path.Join(dataDir, "notes_vault.log"))
}

// LoadConfig reads the config file at configPath. Every key can be
// overridden with a NOTES_VAULT_ prefixed environment variable.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("notes_vault")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to parse the config file: %w", err)
	}
	if config.RootPath == "" {
		return nil, errors.New("root_path is required")
	}
	return config, nil
}

// NewConfig returns a new Config object by reading from the config file
func NewConfig() *Config {
	config, err := LoadConfig(DefaultConfigPath())
	if err != nil {
		log.Fatal(err)
	}
	return config
}
