package configwatcher

import "github.com/bft-labs/adcpship/pkg/adcpship"

// WithConfigWatcher returns an Option that reports configuration file edits.
//
// Usage:
//
//	s, err := adcpship.New(cfg,
//	    adcpship.WithConfigPath(path),
//	    configwatcher.WithConfigWatcher(configwatcher.DefaultConfig()),
//	)
func WithConfigWatcher(cfg Config) adcpship.Option {
	return adcpship.WithPlugin(New(cfg))
}
