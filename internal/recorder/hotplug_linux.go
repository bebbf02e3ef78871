//go:build linux

package recorder

import (
	"context"

	"github.com/pilebones/go-udev/netlink"

	"github.com/bft-labs/adcpship/pkg/log"
)

// watchHotplug signals on the returned channel whenever a tty device is
// added, so a reconnect loop can retry at once instead of sleeping out its
// backoff. A nil channel is returned when netlink is unavailable.
func watchHotplug(ctx context.Context, logger log.Logger) <-chan struct{} {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logger.Debug("hotplug watcher unavailable", log.Err(err))
		return nil
	}

	action := "add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "tty",
		},
	})

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := conn.Monitor(queue, errs, rules)

	wake := make(chan struct{}, 1)
	go func() {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				close(quit)
				return
			case ev := <-queue:
				logger.Debug("tty added", log.String("devname", ev.Env["DEVNAME"]))
				select {
				case wake <- struct{}{}:
				default:
				}
			case err := <-errs:
				logger.Warn("hotplug watcher error", log.Err(err))
			}
		}
	}()
	return wake
}
