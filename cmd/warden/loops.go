package main

import (
	"context"
	"time"
)

// Periodically unbinds expired license keys. Teardown of the affected tenants happens in the registry's unbind hook.
func (s *Server) RunLicenseSweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			swept, err := s.licenses.SweepExpired(ctx)
			if err != nil {
				// don't return an error, just log, and attempt again on the next tick
				s.logger.Error("license expiry sweep failed", "err", err)
				continue
			}
			if len(swept) > 0 {
				s.logger.Info("unbound expired license keys", "count", len(swept))
			}
		case <-ctx.Done():
			return nil
		}
	}
}
