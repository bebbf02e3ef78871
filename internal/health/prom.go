package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adcp_frames_total",
		Help: "Decoded frames by sentence family.",
	}, []string{"kind"})

	parseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adcp_parse_errors_total",
		Help: "Rejected lines by error class.",
	}, []string{"class"})

	persistErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adcp_persist_errors_total",
		Help: "Frames that could not be written to the dated output.",
	})

	backupWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adcp_backup_writes_total",
		Help: "Raw capture appends by target and result.",
	}, []string{"target", "result"})

	serialBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adcp_serial_bytes_total",
		Help: "Bytes read from the serial source.",
	})

	handoffFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adcp_handoff_files_total",
		Help: "Handoff files reaching a terminal state.",
	}, []string{"outcome"})

	lastFrameSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "adcp_last_frame_timestamp_seconds",
		Help: "Unix time of the last successfully handled frame.",
	})

	idleAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adcp_idle_alerts_total",
		Help: "Idle episodes that raised an alert.",
	})
)
