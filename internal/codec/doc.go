// Package codec decodes and encodes the instrument's NMEA-style sentences.
//
// A line is `$ID,f1,...,fn*HH` where HH is the exclusive-or of every byte
// between `$` and `*`. Three families are understood: PNORI (configuration),
// PNORS (sensor) and PNORC (per-cell current). Numeric fields that are empty
// or begin with -9 decode to Unset rather than zero.
package codec
