package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/adcpship/internal/cliconfig"
	"github.com/bft-labs/adcpship/pkg/adcpship"
	"github.com/bft-labs/adcpship/pkg/log"
	"github.com/bft-labs/adcpship/plugins/configwatcher"
	"github.com/bft-labs/adcpship/plugins/statusserver"
)

const longHelp = `Capture ADCP telemetry from a serial line and turn it into dated JSON Lines.

Roles:
  Recording     read the serial port, keep raw backups, hand files to processing
  Processing    decode stable handoff files into <data_directory>/YYYY-MM-DD.jsonl
  Orchestrator  run both roles as supervised child processes

Configuration is read from a TOML file, then ADCP_* environment variables,
then flags; later sources win.`

var exampleUsage = strings.TrimSpace(`
  adcpship config/adcp.toml
  adcpship --config /etc/adcp.toml --mode Processing
  adcpship --replay backup/2026-01-05.raw
  adcpship status config/adcp.toml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "adcpship:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := cliconfig.DefaultConfig()
	var cfgPath, replayPath string

	root := &cobra.Command{
		Use:           "adcpship [config]",
		Short:         "ADCP serial capture and processing supervisor",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := configPath(cfgPath, args)
			var force cliconfig.Mode
			if replayPath != "" {
				force = cliconfig.ModeProcessing
			}
			if err := loadConfig(cmd.Flags(), cfgFile, &cfg, force); err != nil {
				return err
			}
			logger := cliconfig.Logger(cfg, os.Stderr)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if replayPath != "" {
				return runReplay(ctx, cfg, replayPath, logger)
			}

			logCfg := cfg
			if logCfg.AlertWebhook != "" {
				logCfg.AlertWebhook = "*****"
			}
			logger.Info("configuration", log.Any("config", logCfg), log.String("file", cfgFile))

			// Children of an Orchestrator share its config file; the
			// Orchestrator alone serves status and watches the file.
			child := cfg.HeartbeatFile != ""
			opts := []adcpship.Option{adcpship.WithLogger(logger)}
			if cliconfig.FileExists(cfgFile) {
				opts = append(opts, adcpship.WithConfigPath(absPath(cfgFile)))
				if !child {
					opts = append(opts, configwatcher.WithConfigWatcher(configwatcher.DefaultConfig()))
				}
			}
			if cfg.StatusListen != "" && !child {
				opts = append(opts, statusserver.WithStatusServer(cfg.StatusListen))
			}
			s, err := adcpship.New(cfg, opts...)
			if err != nil {
				return fmt.Errorf("create supervisor: %w", err)
			}
			if err := s.Start(ctx); err != nil {
				return fmt.Errorf("start %s: %w", cfg.Mode, err)
			}

			failure := s.Wait()
			if failure == nil {
				logger.Info("received signal, stopping...")
			}
			if err := s.Stop(); err != nil && failure == nil {
				failure = err
			}
			return failure
		},
	}

	bindFlags(root.Flags(), &cfg)
	root.Flags().StringVar(&cfgPath, "config", "", fmt.Sprintf("path to config file (default: %s)", cliconfig.DefaultConfigPath))
	root.Flags().StringVar(&replayPath, "replay", "", "parse one capture file into the data directory and exit")

	root.AddCommand(newStatusCmd())
	return root
}

// bindFlags registers one flag per setting. Flag names are the keys of the
// changed map consulted by the file and environment layers.
func bindFlags(fs *pflag.FlagSet, cfg *cliconfig.Config) {
	fs.StringVar((*string)(&cfg.Mode), "mode", string(cfg.Mode), "role to run: Recording, Processing or Orchestrator")
	fs.StringVar(&cfg.ServiceName, "service-name", cfg.ServiceName, "service name used in logs and alerts")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (auto, console, json)")
	fs.StringVar(&cfg.DataDirectory, "data-directory", cfg.DataDirectory, "folder for dated JSON Lines output")
	fs.StringVar(&cfg.SerialPort, "serial-port", cfg.SerialPort, "serial device, FIFO or file to read")
	fs.IntVar(&cfg.BaudRate, "baud-rate", cfg.BaudRate, "serial baud rate")
	fs.DurationVar(&cfg.IdleThreshold, "idle-threshold", cfg.IdleThreshold, "raise an alert after this long without frames")
	fs.StringVar(&cfg.AlertWebhook, "alert-webhook", cfg.AlertWebhook, "URL receiving alert POSTs")

	fs.StringVar(&cfg.BackupFolder, "backup-folder", cfg.BackupFolder, "raw capture backup folder")
	fs.StringVar(&cfg.DataProcessFolder, "data-process-folder", cfg.DataProcessFolder, "handoff folder between roles")
	fs.StringVar(&cfg.ProcessedFolder, "processed-folder", cfg.ProcessedFolder, "folder for replayed handoff files")
	fs.StringVar(&cfg.SplitMode, "split-mode", cfg.SplitMode, "capture file period (Daily or Weekly)")
	fs.IntVar(&cfg.MaxBackupFiles, "max-backup-files", cfg.MaxBackupFiles, "backup files to keep (0 keeps all)")
	fs.IntVar(&cfg.MaxBackupAgeDays, "max-backup-age-days", cfg.MaxBackupAgeDays, "delete backups older than this many days (0 keeps all)")
	fs.BoolVar(&cfg.ArchiveOnStart, "archive-on-start", cfg.ArchiveOnStart, "move existing backups into an archive folder on start")
	fs.BoolVar(&cfg.CompressArchives, "compress-archives", cfg.CompressArchives, "gzip archived backups")

	fs.DurationVar(&cfg.FileStability, "file-stability", cfg.FileStability, "quiet period before a handoff file is processed")
	fs.DurationVar(&cfg.ScanInterval, "scan-interval", cfg.ScanInterval, "handoff folder scan interval")

	fs.StringVar(&cfg.RuntimeDir, "runtime-dir", cfg.RuntimeDir, "folder for pid, heartbeat and control artifacts (default: <data_directory>/run)")
	fs.StringVar(&cfg.RestartPolicy, "restart-policy", cfg.RestartPolicy, "child restart policy (backoff or none)")
	fs.StringVar(&cfg.StatusListen, "status-listen", cfg.StatusListen, "serve /healthz and /metrics on this address")
}

func configPath(flagValue string, args []string) string {
	if flagValue != "" {
		return flagValue
	}
	if len(args) > 0 {
		return args[0]
	}
	return cliconfig.DefaultConfigPath
}

// loadConfig layers file, environment and validation over flags already parsed into cfg.
// A non-empty force replaces the configured mode for commands that never
// open the serial port.
func loadConfig(flags *pflag.FlagSet, cfgFile string, cfg *cliconfig.Config, force cliconfig.Mode) error {
	changed := map[string]bool{}
	flags.Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	} else if flags.Changed("config") {
		return fmt.Errorf("load config: %s: %w", cfgFile, os.ErrNotExist)
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}
	if force != "" {
		cfg.Mode = force
	}
	return cfg.Validate()
}

func runReplay(ctx context.Context, cfg cliconfig.Config, path string, logger log.Logger) error {
	res, err := adcpship.Replay(ctx, cfg, path, logger)
	logger.Info("replay finished",
		log.String("file", path),
		log.Int("lines", res.Lines),
		log.Int("frames", res.Frames),
		log.Int("parse_errors", res.ParseErrors),
		log.Int("persist_errors", res.PersistErrors),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("replay %s: %w", path, err)
	}
	return nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
