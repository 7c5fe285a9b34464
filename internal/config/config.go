package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// VFConfig holds the application configuration
type VFConfig struct {
	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Server struct {
		Host       string `mapstructure:"host"`
		Port       int    `mapstructure:"port"`
		AdminToken string `mapstructure:"admin_token"`
	} `mapstructure:"server"`

	Queue struct {
		Host     string `mapstructure:"host"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"queue"`

	Storage struct {
		Backend string `mapstructure:"backend"` // "filesystem" or "object"
		Root    string `mapstructure:"root"`    // permanent video file tree
		TmpDir  string `mapstructure:"tmp_dir"` // scratch space for materialized objects
	} `mapstructure:"storage"`

	Jobs struct {
		StallTimeoutSec  int    `mapstructure:"stall_timeout_sec"`
		StallIntervalSec int    `mapstructure:"stall_interval_sec"`
		RetentionDays    int    `mapstructure:"retention_days"`
		CleanupCron      string `mapstructure:"cleanup_cron"`
	} `mapstructure:"jobs"`

	LogLevel string `mapstructure:"log_level"`
}

// GetLogLevel parses the configured log level, falling back to info
func (c *VFConfig) GetLogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// LoadConfig reads the configuration from a file or environment variables
func LoadConfig(configPaths ...string) (*VFConfig, error) {
	// can specify config path from environment
	if path, exists := os.LookupEnv("VF_CONFIG_PATH"); exists {
		configPaths = append(configPaths, path)
	}
	for _, path := range configPaths {
		fi, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		mode := fi.Mode()
		switch {
		case mode.IsRegular():
			v := newViper()
			v.SetConfigFile(path)
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil

		case mode.IsDir():
			v := newViper()
			v.AddConfigPath(path)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil
		}
	}

	v := newViper()
	// finally read from current working directory
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	cwd, _ := os.Getwd()

	config, err := readConfig(v, cwd)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// newViper creates a viper instance with default values set
func newViper() *viper.Viper {
	v := viper.New()

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "vidforge")
	v.SetDefault("database.sslmode", "disable")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_token", "")

	v.SetDefault("queue.host", "localhost:6379")
	v.SetDefault("queue.password", "redis")
	v.SetDefault("queue.db", 0)

	// Storage defaults
	v.SetDefault("storage.backend", "filesystem")
	v.SetDefault("storage.root", "/var/lib/vidforge/videos")
	v.SetDefault("storage.tmp_dir", os.TempDir())

	// Job lifecycle defaults
	v.SetDefault("jobs.stall_timeout_sec", 1800) // 30 minutes without an accepted update
	v.SetDefault("jobs.stall_interval_sec", 60)
	v.SetDefault("jobs.retention_days", 14)
	v.SetDefault("jobs.cleanup_cron", "0 3 * * *")

	// Log level default
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("VF")                               // Prefix for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores in env vars
	v.AutomaticEnv()                                   // Read environment variables

	return v
}

func readConfig(v *viper.Viper, path string) (*VFConfig, error) {
	var config VFConfig

	if err := v.ReadInConfig(); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not read config file")
		return nil, err
	}
	if err := v.Unmarshal(&config); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not unmarshall config")
		return nil, err
	}

	return &config, nil
}

// GetDatabaseURL returns a formatted database connection string
func (c *VFConfig) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
