// Package adcpship embeds the ADCP telemetry supervisor.
//
// A Supervisor runs one role per process:
//
//   - Recording reads the serial source and writes raw capture files to the
//     backup folder and the handoff folder.
//   - Processing waits for handoff files to become stable, decodes them and
//     appends the frames to dated JSON Lines files.
//   - Orchestrator re-executes the binary once per role and supervises the
//     children through heartbeat artifacts.
//
// # Basic Usage
//
//	cfg := adcpship.DefaultConfig()
//	cfg.SerialPort = "/dev/ttyUSB0"
//
//	s, err := adcpship.New(cfg, adcpship.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	failure := s.Wait() // returns once ctx is cancelled or a task fails
//	_ = s.Stop()
//
// # Plugins
//
// Plugins registered with [WithPlugin] are initialized on Start in
// registration order and shut down in reverse order on Stop. They receive
// read-only accessors to the health counters through [PluginConfig].
package adcpship
