package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultConfigPath is read when no path is given; a missing file is not an error.
var DefaultConfigPath = filepath.Join("config", "adcp.toml")

// FileConfig mirrors Config with TOML-friendly types: seconds as integers
// where the key name says so, other durations as strings.
type FileConfig struct {
	ServiceName   string `toml:"service_name"`
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	Mode          string `toml:"mode"`
	DataDirectory string `toml:"data_directory"`
	SerialPort    string `toml:"serial_port"`
	BaudRate      int    `toml:"baud_rate"`

	IdleThresholdSeconds int    `toml:"idle_threshold_seconds"`
	AlertWebhook         string `toml:"alert_webhook"`

	BackupFolder        string `toml:"backup_folder"`
	DataProcessFolder   string `toml:"data_process_folder"`
	ProcessedFolder     string `toml:"processed_folder"`
	SplitMode           string `toml:"split_mode"`
	MaxBackupFiles      int    `toml:"max_backup_files"`
	MaxBackupAgeDays    int    `toml:"max_backup_age_days"`
	BackupMaxFileBytes  int    `toml:"backup_max_file_bytes"`
	BackupMaxFileWrites int    `toml:"backup_max_file_writes"`
	HandoffMaxFileBytes int    `toml:"handoff_max_file_bytes"`
	BackupFailureLimit  int    `toml:"backup_failure_limit"`
	ArchiveOnStart      *bool  `toml:"archive_on_start"`
	CompressArchives    *bool  `toml:"compress_archives"`
	RetentionInterval   string `toml:"retention_interval"`

	FileStabilitySeconds int    `toml:"file_stability_seconds"`
	ScanInterval         string `toml:"scan_interval"`

	SerialReconnectAttempts int `toml:"serial_reconnect_attempts"`

	RuntimeDir        string `toml:"runtime_dir"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	HeartbeatTimeout  string `toml:"heartbeat_timeout"`
	ShutdownGrace     string `toml:"shutdown_grace"`
	RestartPolicy     string `toml:"restart_policy"`
	MaxRestarts       int    `toml:"max_restarts"`

	StatusListen string `toml:"status_listen"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("service-name", fc.ServiceName, &cfg.ServiceName)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	s.setMode("mode", fc.Mode, &cfg.Mode)
	s.setString("data-directory", fc.DataDirectory, &cfg.DataDirectory)
	s.setString("serial-port", fc.SerialPort, &cfg.SerialPort)
	s.setInt("baud-rate", fc.BaudRate, &cfg.BaudRate)

	s.setSeconds("idle-threshold", fc.IdleThresholdSeconds, &cfg.IdleThreshold)
	s.setString("alert-webhook", fc.AlertWebhook, &cfg.AlertWebhook)

	s.setString("backup-folder", fc.BackupFolder, &cfg.BackupFolder)
	s.setString("data-process-folder", fc.DataProcessFolder, &cfg.DataProcessFolder)
	s.setString("processed-folder", fc.ProcessedFolder, &cfg.ProcessedFolder)
	s.setString("split-mode", fc.SplitMode, &cfg.SplitMode)
	s.setInt("max-backup-files", fc.MaxBackupFiles, &cfg.MaxBackupFiles)
	s.setInt("max-backup-age-days", fc.MaxBackupAgeDays, &cfg.MaxBackupAgeDays)
	s.setInt("backup-max-file-bytes", fc.BackupMaxFileBytes, &cfg.BackupMaxFileBytes)
	s.setInt("backup-max-file-writes", fc.BackupMaxFileWrites, &cfg.BackupMaxFileWrites)
	s.setInt("handoff-max-file-bytes", fc.HandoffMaxFileBytes, &cfg.HandoffMaxFileBytes)
	s.setInt("backup-failure-limit", fc.BackupFailureLimit, &cfg.BackupFailureLimit)
	s.setBool("archive-on-start", fc.ArchiveOnStart, &cfg.ArchiveOnStart)
	s.setBool("compress-archives", fc.CompressArchives, &cfg.CompressArchives)
	if err := s.setDuration("retention-interval", fc.RetentionInterval, &cfg.RetentionInterval); err != nil {
		return err
	}

	s.setSeconds("file-stability", fc.FileStabilitySeconds, &cfg.FileStability)
	if err := s.setDuration("scan-interval", fc.ScanInterval, &cfg.ScanInterval); err != nil {
		return err
	}

	s.setInt("serial-reconnect-attempts", fc.SerialReconnectAttempts, &cfg.SerialReconnectAttempts)

	s.setString("runtime-dir", fc.RuntimeDir, &cfg.RuntimeDir)
	if err := s.setDuration("heartbeat-interval", fc.HeartbeatInterval, &cfg.HeartbeatInterval); err != nil {
		return err
	}
	if err := s.setDuration("heartbeat-timeout", fc.HeartbeatTimeout, &cfg.HeartbeatTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-grace", fc.ShutdownGrace, &cfg.ShutdownGrace); err != nil {
		return err
	}
	s.setString("restart-policy", fc.RestartPolicy, &cfg.RestartPolicy)
	s.setInt("max-restarts", fc.MaxRestarts, &cfg.MaxRestarts)

	s.setString("status-listen", fc.StatusListen, &cfg.StatusListen)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
