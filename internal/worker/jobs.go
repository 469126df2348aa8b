package worker

import (
	"context"
	"log"
)

// TokenPurger deletes refresh tokens past their expiry.
type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context) (int64, error)
}

func CleanupTokensHandler(purger TokenPurger, logger *log.Logger) JobHandler {
	if logger == nil {
		logger = log.Default()
	}
	return func(ctx context.Context, job *Job) error {
		n, err := purger.PurgeExpiredTokens(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Printf("[worker] purged %d expired refresh tokens", n)
		}
		return nil
	}
}
