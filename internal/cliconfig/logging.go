package cliconfig

import (
	"io"

	"github.com/bft-labs/adcpship/pkg/log"
)

// Logger builds the process logger for cfg, tagged with service and role.
func Logger(cfg Config, out io.Writer) log.Logger {
	return log.NewZerologAdapter(out, cfg.LogFormat, cfg.LogLevel).With(
		log.String("service", cfg.ServiceName),
		log.String("role", cfg.Mode.Role()),
	)
}
