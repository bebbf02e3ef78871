package adcpship

import (
	"github.com/bft-labs/adcpship/pkg/lifecycle"
	"github.com/bft-labs/adcpship/pkg/log"
	"github.com/bft-labs/adcpship/pkg/sender"
)

// Option configures optional behavior of a Supervisor.
type Option func(*options)

type options struct {
	logger     log.Logger
	alerts     sender.Sender
	plugins    []Plugin
	configPath string
	childArgs  []string
	states     lifecycle.EventEmitter
}

// WithLogger sets the structured logger. Without it nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithAlertSender replaces the webhook sender built from AlertWebhook.
func WithAlertSender(s sender.Sender) Option {
	return func(o *options) {
		o.alerts = s
	}
}

// WithPlugin registers a plugin to be initialized when the Supervisor starts.
// Plugins are initialized in registration order and shut down in reverse order.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, p)
	}
}

// WithConfigPath records the file the configuration was read from. Children
// read it in Orchestrator mode and plugins receive it.
func WithConfigPath(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithChildArgs sets arguments placed before the per-role flags when the
// Orchestrator re-executes the binary.
func WithChildArgs(args ...string) Option {
	return func(o *options) {
		o.childArgs = args
	}
}

// WithStateEmitter reports every lifecycle transition of the Supervisor to e.
func WithStateEmitter(e lifecycle.EventEmitter) Option {
	return func(o *options) {
		o.states = e
	}
}
