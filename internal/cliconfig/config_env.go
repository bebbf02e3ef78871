package cliconfig

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "ADCP_"

func env(key string) string { return os.Getenv(EnvPrefix + key) }

// ApplyEnvConfig applies configuration from environment variables (ADCP_*).
// Values override the file but not explicitly set flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("service-name", env("SERVICE_NAME"), &cfg.ServiceName)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.LogFormat)
	s.setMode("mode", env("MODE"), &cfg.Mode)
	s.setString("data-directory", env("DATA_DIRECTORY"), &cfg.DataDirectory)
	s.setString("serial-port", env("SERIAL_PORT"), &cfg.SerialPort)
	if err := s.setIntFromString("baud-rate", env("BAUD_RATE"), &cfg.BaudRate); err != nil {
		return err
	}

	if err := s.setSecondsFromString("idle-threshold", env("IDLE_THRESHOLD_SECONDS"), &cfg.IdleThreshold); err != nil {
		return err
	}
	s.setString("alert-webhook", env("ALERT_WEBHOOK"), &cfg.AlertWebhook)

	s.setString("backup-folder", env("BACKUP_FOLDER"), &cfg.BackupFolder)
	s.setString("data-process-folder", env("DATA_PROCESS_FOLDER"), &cfg.DataProcessFolder)
	s.setString("processed-folder", env("PROCESSED_FOLDER"), &cfg.ProcessedFolder)
	s.setString("split-mode", env("SPLIT_MODE"), &cfg.SplitMode)
	if err := s.setIntFromString("max-backup-files", env("MAX_BACKUP_FILES"), &cfg.MaxBackupFiles); err != nil {
		return err
	}
	if err := s.setIntFromString("max-backup-age-days", env("MAX_BACKUP_AGE_DAYS"), &cfg.MaxBackupAgeDays); err != nil {
		return err
	}
	if err := s.setIntFromString("backup-failure-limit", env("BACKUP_FAILURE_LIMIT"), &cfg.BackupFailureLimit); err != nil {
		return err
	}
	s.setBoolFromString("archive-on-start", env("ARCHIVE_ON_START"), &cfg.ArchiveOnStart)
	s.setBoolFromString("compress-archives", env("COMPRESS_ARCHIVES"), &cfg.CompressArchives)

	if err := s.setSecondsFromString("file-stability", env("FILE_STABILITY_SECONDS"), &cfg.FileStability); err != nil {
		return err
	}
	if err := s.setDuration("scan-interval", env("SCAN_INTERVAL"), &cfg.ScanInterval); err != nil {
		return err
	}

	s.setString("runtime-dir", env("RUNTIME_DIR"), &cfg.RuntimeDir)
	if err := s.setDuration("heartbeat-interval", env("HEARTBEAT_INTERVAL"), &cfg.HeartbeatInterval); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-grace", env("SHUTDOWN_GRACE"), &cfg.ShutdownGrace); err != nil {
		return err
	}
	s.setString("restart-policy", env("RESTART_POLICY"), &cfg.RestartPolicy)
	s.setString("status-listen", env("STATUS_LISTEN"), &cfg.StatusListen)

	s.setString("heartbeat-file", env("HEARTBEAT_FILE"), &cfg.HeartbeatFile)
	s.setString("control-file", env("CONTROL_FILE"), &cfg.ControlFile)

	return nil
}
