// Package persist writes decoded frames as date-partitioned JSON lines.
package persist
