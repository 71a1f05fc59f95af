package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunEvery calls fn every interval until ctx is done. Errors are logged; the loop continues.
func RunEvery(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Str("job", name).Dur("interval", interval).Msg("Starting periodic job")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("job", name).Msg("Periodic job stopped")
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				log.Error().Err(err).Str("job", name).Msg("Periodic job failed")
			}
		}
	}
}
