// Package sender delivers operational alerts to an optional webhook.
//
// Delivery is a single POST of a JSON Alert; callers run it off their own
// loop and only log failures.
//
//	s := sender.New(cfg.AlertWebhook, sender.DefaultTimeout)
//	_ = s.Send(ctx, sender.Alert{Kind: sender.KindIdle, Message: "no frames"})
//
// Implement Sender to route alerts elsewhere.
package sender
