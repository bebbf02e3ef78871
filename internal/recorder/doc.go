// Package recorder is the Recorder role: it owns the serial source and
// writes every raw line to the backup folder and the handoff folder.
package recorder
