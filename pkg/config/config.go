package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration settings for the rollback engine
type Config struct {
	// Path for journal/log output
	LogPath string `json:"log_path"`

	// Local directory watched for trigger files in watch mode
	TriggerPath string `json:"trigger_path"`

	// Remote connection settings
	SSH SSHConfig `json:"ssh"`

	// Target site settings
	Site SiteConfig `json:"site"`

	// Rollback behavior settings
	Rollback RollbackConfig `json:"rollback"`

	// Email notification settings
	Notify NotifyConfig `json:"notify"`
}

// SSHConfig holds the remote connection settings
type SSHConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`

	// Password or key path; at least one must be set
	Password string `json:"password,omitempty"`
	KeyPath  string `json:"key_path,omitempty"`

	// Connection timeout (in seconds)
	ConnectTimeout int `json:"connect_timeout"`

	// Per-command execution timeout (in seconds)
	CommandTimeout int `json:"command_timeout"`
}

// SiteConfig identifies the IIS site and the remote paths a run operates on
type SiteConfig struct {
	// IIS site name
	Name string `json:"name"`

	// Live site root on the remote host
	Path string `json:"path"`

	// Directory holding the rollback source (archive or expanded tree)
	BackupPath string `json:"backup_path"`

	// Root for temporary staging directories
	TempRoot string `json:"temp_root"`

	// Root for preventive backup directories
	BackupRoot string `json:"backup_root"`
}

// RollbackConfig holds orchestration tuning and policy
type RollbackConfig struct {
	// Bounded polling for stop confirmation
	StopPollAttempts int `json:"stop_poll_attempts"`
	StopPollInterval int `json:"stop_poll_interval"`

	// Bounded polling for start confirmation
	StartPollAttempts int `json:"start_poll_attempts"`
	StartPollInterval int `json:"start_poll_interval"`

	// Whether a partially failed content replacement still attempts to
	// start the site. A non-recoverable copy failure always hard-stops.
	StartAfterCopyFailure bool `json:"start_after_copy_failure"`
}

// NotifyConfig holds SMTP notification settings; empty recipients disables it
type NotifyConfig struct {
	SMTPServer string   `json:"smtp_server"`
	SMTPPort   int      `json:"smtp_port"`
	Sender     string   `json:"sender"`
	Password   string   `json:"password,omitempty"`
	Recipients []string `json:"recipients"`
	UseTLS     bool     `json:"use_tls"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		LogPath:     "./logs",
		TriggerPath: "./triggers",
		SSH: SSHConfig{
			Port:           22,
			ConnectTimeout: 30,
			CommandTimeout: 120,
		},
		Site: SiteConfig{
			TempRoot:   `E:\Temp`,
			BackupRoot: `E:\Web Sites Backups`,
		},
		Rollback: RollbackConfig{
			StopPollAttempts:      10,
			StopPollInterval:      2,
			StartPollAttempts:     10,
			StartPollInterval:     2,
			StartAfterCopyFailure: true,
		},
		Notify: NotifyConfig{
			SMTPServer: "smtp.gmail.com",
			SMTPPort:   587,
			UseTLS:     true,
		},
	}
}

// LoadConfig loads configuration from file or returns default if file doesn't exist
func LoadConfig(configPath string) (*Config, error) {
	// If config file doesn't exist, create it with default values
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.SaveConfig(configPath); err != nil {
			return nil, err
		}
		config.applyEnv()
		return config, nil
	}

	// Read existing config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	config.applyEnv()
	return &config, nil
}

// SaveConfig saves the configuration to file
func (c *Config) SaveConfig(configPath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// applyEnv overlays credentials and connection values from the environment
// so secrets never have to live in the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("ROLLBACK_SSH_HOST"); v != "" {
		c.SSH.Host = v
	}
	if v := os.Getenv("ROLLBACK_SSH_USERNAME"); v != "" {
		c.SSH.Username = v
	}
	if v := os.Getenv("ROLLBACK_SSH_PASSWORD"); v != "" {
		c.SSH.Password = v
	}
	if v := os.Getenv("ROLLBACK_SSH_KEY_PATH"); v != "" {
		c.SSH.KeyPath = v
	}
	if v := os.Getenv("ROLLBACK_SMTP_PASSWORD"); v != "" {
		c.Notify.Password = v
	}
}

// Validate checks the invariants a rollback run depends on
func (c *Config) Validate() error {
	if c.SSH.Host == "" {
		return fmt.Errorf("ssh host is required")
	}
	if c.SSH.Username == "" {
		return fmt.Errorf("ssh username is required")
	}
	if c.SSH.Password == "" && c.SSH.KeyPath == "" {
		return fmt.Errorf("either ssh password or ssh key path must be provided")
	}
	if c.Site.Name == "" {
		return fmt.Errorf("site name is required")
	}
	if c.Site.Path == "" {
		return fmt.Errorf("site path is required")
	}
	if c.Site.BackupPath == "" {
		return fmt.Errorf("backup path is required")
	}
	return nil
}

// GetConnectTimeout returns the SSH connect timeout as a time.Duration
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.SSH.ConnectTimeout) * time.Second
}

// GetCommandTimeout returns the per-command timeout as a time.Duration
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.SSH.CommandTimeout) * time.Second
}

// GetStopPollInterval returns the stop poll interval as a time.Duration
func (c *Config) GetStopPollInterval() time.Duration {
	return time.Duration(c.Rollback.StopPollInterval) * time.Second
}

// GetStartPollInterval returns the start poll interval as a time.Duration
func (c *Config) GetStartPollInterval() time.Duration {
	return time.Duration(c.Rollback.StartPollInterval) * time.Second
}
