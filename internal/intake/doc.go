// Package intake is the Processor role: it drains the handoff folder,
// replaying each quiet file through the codec into the dated output and
// moving it to its terminal location.
package intake
