package call

import (
	"context"
	"time"

	"github.com/telecare/telecare/internal/platform/realtime"
)

// SweepRinging turns ringing calls older than timeout into missed calls and
// notifies both parties with call_missed.
func (s *Service) SweepRinging(ctx context.Context, timeout time.Duration) (int, error) {
	now := s.clock.Now()
	swept, err := s.repo.MarkStaleRinging(ctx, now.Add(-timeout), now)
	if err != nil {
		return 0, err
	}
	for _, rec := range swept {
		s.metrics.CallTransition(string(StatusMissed), true)
		payload := CallMissedPayload{
			CallLogID:  rec.ID,
			CallerID:   rec.CallerID,
			ReceiverID: rec.ReceiverID,
			CallType:   rec.CallType,
		}
		s.emit(ctx, realtime.ToChannel(realtime.IdentityChannel(rec.CallerRole, rec.CallerID)),
			realtime.EventCallMissed, payload, rec.ID)
		s.emit(ctx, realtime.ToChannel(realtime.IdentityChannel(rec.ReceiverRole, rec.ReceiverID)),
			realtime.EventCallMissed, payload, rec.ID)
	}
	if len(swept) > 0 {
		s.logger.Info().Int("count", len(swept)).Msg("ringing calls marked missed")
	}
	return len(swept), nil
}

// RunSweeper calls SweepRinging every interval until ctx is done. A zero
// timeout disables it.
func (s *Service) RunSweeper(ctx context.Context, timeout, interval time.Duration) {
	if timeout <= 0 || interval <= 0 {
		return
	}
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepRinging(ctx, timeout); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("ringing sweep failed")
			}
		}
	}
}
