package bridge

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/danmuck/bridgectl/internal/transport"
)

const DefaultResolveInterval = 25 * time.Millisecond

// SenderResolver turns a not-ready sender table entry into a usable sender
// by polling on a fixed cadence. The host populates a pane's channel some
// time after the pane itself becomes addressable; until then the only
// signal available is the probe coming back empty. Polling has no retry
// bound, cancellation comes from ctx.
type SenderResolver struct {
	table    transport.SenderTable
	interval time.Duration
}

func NewSenderResolver(table transport.SenderTable, interval time.Duration) *SenderResolver {
	if interval <= 0 {
		interval = DefaultResolveInterval
	}
	return &SenderResolver{table: table, interval: interval}
}

// AcquireSender resolves addr to its live sender, polling until the entry
// exists. Returns ctx.Err() when cancelled first.
func (r *SenderResolver) AcquireSender(ctx context.Context, addr transport.Addr) (transport.Sender, error) {
	var sender transport.Sender
	probe := func() error {
		s, ok := r.table.SenderFor(addr)
		if !ok {
			return ErrSenderUnavailable
		}
		sender = s
		return nil
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(r.interval), ctx)
	if err := backoff.Retry(probe, policy); err != nil {
		return nil, err
	}
	return sender, nil
}
