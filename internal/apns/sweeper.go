package apns

import (
	"time"

	"go.uber.org/zap"
)

// sweepLoop periodically evicts pushes that have waited longer than the
// configured timeout and fires their OnTimeout callbacks. It runs for the
// whole open lifetime of the Conn, deliberately outliving the transport:
// after a socket failure, the records stranded in the registry still get
// their timeout instead of leaking forever.
//
// Eviction happens on sweep boundaries, so a push times out somewhere in
// [Timeout, Timeout+SweepInterval) after submission, never before Timeout.
func (c *Conn) sweepLoop(stopc <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopc:
			return
		case now := <-ticker.C:
			expired := c.registry.claimExpired(now.Add(-c.cfg.Timeout))
			for _, rec := range expired {
				c.logger.Debug("push timed out",
					zap.Uint32("stream", rec.id),
					zap.Duration("timeout", c.cfg.Timeout))
				rec.cb.OnTimeout()
			}
		}
	}
}
