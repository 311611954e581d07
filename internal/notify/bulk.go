package notify

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// SendBulkNotifications dispatches every request independently and returns
// one Result per request at the same index.
func (s *Service) SendBulkNotifications(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	// Plain Group, not WithContext: one failure must not cancel the rest.
	var g errgroup.Group
	if s.maxConcurrency > 0 {
		g.SetLimit(s.maxConcurrency)
	}
	for i := range reqs {
		i := i
		g.Go(func() error {
			results[i] = s.SendNotification(ctx, reqs[i])
			return nil
		})
	}
	_ = g.Wait()

	sent := 0
	for _, r := range results {
		if r.Success {
			sent++
		}
	}
	s.logger.Info("bulk send complete", "requests", len(reqs), "sent", sent, "failed", len(reqs)-sent)
	return results
}
