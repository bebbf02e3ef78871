//go:build !linux

package recorder

import (
	"context"

	"github.com/bft-labs/adcpship/pkg/log"
)

func watchHotplug(ctx context.Context, logger log.Logger) <-chan struct{} { return nil }
