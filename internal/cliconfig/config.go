package cliconfig

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/adcpship/internal/backup"
	"github.com/bft-labs/adcpship/internal/domain"
	"github.com/bft-labs/adcpship/pkg/log"
)

// DefaultServiceName is used when service_name is empty.
const DefaultServiceName = "adcp-supervisor"

// Mode selects the role a process runs.
type Mode string

const (
	ModeRecording    Mode = "Recording"
	ModeProcessing   Mode = "Processing"
	ModeOrchestrator Mode = "Orchestrator"
)

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "recording":
		return ModeRecording, nil
	case "processing":
		return ModeProcessing, nil
	case "orchestrator":
		return ModeOrchestrator, nil
	}
	return "", fmt.Errorf("%w: mode %q (want Recording, Processing or Orchestrator)", domain.ErrInvalidConfig, s)
}

// Role returns the lower-case role name used in logs and artifacts.
func (m Mode) Role() string {
	switch m {
	case ModeRecording:
		return "recorder"
	case ModeProcessing:
		return "processor"
	case ModeOrchestrator:
		return "orchestrator"
	}
	return strings.ToLower(string(m))
}

// Config holds the adcpship configuration shared by every role.
type Config struct {
	ServiceName string
	LogLevel    string
	LogFormat   string
	Mode        Mode

	DataDirectory string
	SerialPort    string
	BaudRate      int

	IdleThreshold time.Duration
	AlertWebhook  string

	BackupFolder        string
	DataProcessFolder   string
	ProcessedFolder     string
	SplitMode           string
	MaxBackupFiles      int
	MaxBackupAgeDays    int
	BackupMaxFileBytes  int
	BackupMaxFileWrites int
	HandoffMaxFileBytes int
	BackupFailureLimit  int
	ArchiveOnStart      bool
	CompressArchives    bool
	RetentionInterval   time.Duration

	FileStability time.Duration
	ScanInterval  time.Duration

	SerialReconnectAttempts int

	RuntimeDir        string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ShutdownGrace     time.Duration
	RestartPolicy     string
	MaxRestarts       int

	StatusListen string

	// Set by the Orchestrator for its children.
	HeartbeatFile string
	ControlFile   string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ServiceName:             DefaultServiceName,
		LogLevel:                "info",
		LogFormat:               log.FormatAuto,
		Mode:                    ModeRecording,
		DataDirectory:           "./data",
		BaudRate:                115200,
		IdleThreshold:           30 * time.Second,
		BackupFolder:            "./backup",
		DataProcessFolder:       "./to_process",
		ProcessedFolder:         "./processed",
		SplitMode:               "Daily",
		HandoffMaxFileBytes:     1 << 20, // 1MiB
		BackupFailureLimit:      5,
		CompressArchives:        true,
		RetentionInterval:       time.Hour,
		FileStability:           5 * time.Second,
		ScanInterval:            2 * time.Second,
		SerialReconnectAttempts: 10,
		RuntimeDir:              "", // Derived from DataDirectory during Validate
		HeartbeatInterval:       5 * time.Second,
		HeartbeatTimeout:        30 * time.Second,
		ShutdownGrace:           10 * time.Second,
		RestartPolicy:           "backoff",
		MaxRestarts:             5,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}

	mode, err := ParseMode(string(c.Mode))
	if err != nil {
		return err
	}
	c.Mode = mode

	split, err := backup.ParseSplitMode(c.SplitMode)
	if err != nil {
		return err
	}
	c.SplitMode = split.String()

	switch strings.ToLower(c.LogFormat) {
	case "":
		c.LogFormat = log.FormatAuto
	case log.FormatAuto, log.FormatConsole, log.FormatJSON:
		c.LogFormat = strings.ToLower(c.LogFormat)
	default:
		return fmt.Errorf("%w: log_format %q (want auto, console or json)", domain.ErrInvalidConfig, c.LogFormat)
	}

	switch strings.ToLower(c.RestartPolicy) {
	case "":
		c.RestartPolicy = "backoff"
	case "backoff", "none":
		c.RestartPolicy = strings.ToLower(c.RestartPolicy)
	default:
		return fmt.Errorf("%w: restart_policy %q (want backoff or none)", domain.ErrInvalidConfig, c.RestartPolicy)
	}

	if c.Mode == ModeRecording && c.SerialPort == "" {
		return fmt.Errorf("%w: serial_port is required in Recording mode", domain.ErrInvalidConfig)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud_rate must be positive", domain.ErrInvalidConfig)
	}
	if c.DataDirectory == "" {
		return fmt.Errorf("%w: data_directory is required", domain.ErrInvalidConfig)
	}
	if c.FileStability < 0 || c.IdleThreshold < 0 {
		return fmt.Errorf("%w: durations must not be negative", domain.ErrInvalidConfig)
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("%w: scan interval must be positive", domain.ErrInvalidConfig)
	}

	if c.RuntimeDir == "" {
		c.RuntimeDir = filepath.Join(c.DataDirectory, "run")
	}

	return nil
}

// MaxBackupAge converts max_backup_age_days to a duration; zero means unbounded.
func (c Config) MaxBackupAge() time.Duration {
	return time.Duration(c.MaxBackupAgeDays) * 24 * time.Hour
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setMode stores a mode name as is; Validate normalises it.
func (s *configSetter) setMode(flag, value string, dst *Mode) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = Mode(value)
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setSeconds sets a duration given in whole seconds if positive.
func (s *configSetter) setSeconds(flag string, value int, dst *time.Duration) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = time.Duration(value) * time.Second
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setSecondsFromString parses whole seconds from an environment variable.
func (s *configSetter) setSecondsFromString(flag, value string, dst *time.Duration) error {
	var secs int
	if err := s.setIntFromString(flag, value, &secs); err != nil {
		return err
	}
	if secs > 0 {
		*dst = time.Duration(secs) * time.Second
	}
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
