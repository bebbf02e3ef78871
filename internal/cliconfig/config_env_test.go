package cliconfig

import (
	"reflect"
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies valid env vars",
			envVars: map[string]string{
				"ADCP_SERIAL_PORT":            "/dev/ttyS3",
				"ADCP_BAUD_RATE":              "9600",
				"ADCP_MODE":                   "Processing",
				"ADCP_IDLE_THRESHOLD_SECONDS": "45",
				"ADCP_SPLIT_MODE":             "Weekly",
				"ADCP_MAX_BACKUP_FILES":       "12",
				"ADCP_SCAN_INTERVAL":          "500ms",
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				SerialPort:     "/dev/ttyS3",
				BaudRate:       9600,
				Mode:           ModeProcessing,
				IdleThreshold:  45 * time.Second,
				SplitMode:      "Weekly",
				MaxBackupFiles: 12,
				ScanInterval:   500 * time.Millisecond,
			},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"ADCP_SERIAL_PORT": "/dev/ttyS3",
				"ADCP_BAUD_RATE":   "9600",
			},
			changed:  map[string]bool{"serial-port": true},
			initial:  Config{SerialPort: "/dev/ttyUSB0"},
			expected: Config{SerialPort: "/dev/ttyUSB0", BaudRate: 9600},
		},
		{
			name:     "child artifact paths",
			envVars:  map[string]string{"ADCP_HEARTBEAT_FILE": "/run/r.json", "ADCP_CONTROL_FILE": "/run/r.ctl"},
			changed:  map[string]bool{},
			expected: Config{HeartbeatFile: "/run/r.json", ControlFile: "/run/r.ctl"},
		},
		{
			name:     "handles bool '1' as true",
			envVars:  map[string]string{"ADCP_ARCHIVE_ON_START": "1"},
			changed:  map[string]bool{},
			expected: Config{ArchiveOnStart: true},
		},
		{
			name:     "handles bool 'false' as false",
			envVars:  map[string]string{"ADCP_COMPRESS_ARCHIVES": "false"},
			changed:  map[string]bool{},
			initial:  Config{CompressArchives: true},
			expected: Config{CompressArchives: false},
		},
		{
			name:    "returns error for invalid int",
			envVars: map[string]string{"ADCP_BAUD_RATE": "fast"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "returns error for invalid seconds",
			envVars: map[string]string{"ADCP_FILE_STABILITY_SECONDS": "5s"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "returns error for invalid duration",
			envVars: map[string]string{"ADCP_HEARTBEAT_INTERVAL": "soon"},
			changed: map[string]bool{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyEnvConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnvConfig() unexpected error: %v", err)
			}
			if !reflect.DeepEqual(cfg, tt.expected) {
				t.Errorf("ApplyEnvConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}
