package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/bft-labs/adcpship/internal/cliconfig"
	"github.com/bft-labs/adcpship/internal/heartbeat"
	"github.com/bft-labs/adcpship/internal/orchestrator"
)

type roleStatus struct {
	Role      string
	PID       int
	Alive     bool
	State     string
	Seq       uint64
	Frames    uint64
	Errors    uint64
	UpdatedAt time.Time
}

func newStatusCmd() *cobra.Command {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "status [config]",
		Short: "Show the roles recorded in the runtime folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd.Flags(), configPath(cfgPath, args), &cfg, cliconfig.ModeOrchestrator); err != nil {
				return err
			}
			rows := collectStatus(cfg.RuntimeDir)
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(rows, time.Now()))
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", fmt.Sprintf("path to config file (default: %s)", cliconfig.DefaultConfigPath))
	cmd.Flags().StringVar(&cfg.DataDirectory, "data-directory", cfg.DataDirectory, "folder for dated JSON Lines output")
	cmd.Flags().StringVar(&cfg.RuntimeDir, "runtime-dir", cfg.RuntimeDir, "folder for pid, heartbeat and control artifacts")
	return cmd
}

func collectStatus(dir string) []roleStatus {
	roles := []string{orchestrator.SelfRole}
	for _, r := range orchestrator.DefaultRoles {
		roles = append(roles, r.Name)
	}

	rows := make([]roleStatus, 0, len(roles))
	for _, role := range roles {
		st := roleStatus{Role: role}
		if pid, err := orchestrator.ReadPID(orchestrator.PidFile(dir, role)); err == nil {
			st.PID = pid
			st.Alive = orchestrator.ProcessAlive(pid)
		}
		if rec, err := heartbeat.NewFile(orchestrator.HeartbeatFile(dir, role)).Load(); err == nil {
			st.State = rec.State
			st.Seq = rec.Seq
			st.Frames = rec.Metrics.Frames
			st.Errors = rec.Metrics.ParseErrors + rec.Metrics.PersistErrors
			st.UpdatedAt = rec.UpdatedAt
		} else if !errors.Is(err, fs.ErrNotExist) {
			st.State = "unreadable"
		}
		rows = append(rows, st)
	}
	return rows
}

func renderStatus(rows []roleStatus, now time.Time) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Role", "PID", "Process", "State", "Seq", "Frames", "Errors", "Heartbeat"})

	for _, r := range rows {
		pid, process := "-", "absent"
		if r.PID > 0 {
			pid = strconv.Itoa(r.PID)
			process = "exited"
			if r.Alive {
				process = "running"
			}
		}
		state, beat := r.State, "-"
		if state == "" {
			state = "-"
		}
		if !r.UpdatedAt.IsZero() {
			beat = now.Sub(r.UpdatedAt).Truncate(time.Second).String() + " ago"
		}
		tw.AppendRow(table.Row{r.Role, pid, process, state, r.Seq, r.Frames, r.Errors, beat})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	return tw.Render()
}
