// Package domain holds the sentinel errors shared across adcpship roles.
package domain
