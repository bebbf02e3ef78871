// Package backup keeps the raw serial capture: rolling YYYY-MM-DD[-N].raw
// files with a WriterMarker per active file, retention of old captures and
// archiving of captures left over from a previous run.
package backup
