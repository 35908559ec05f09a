package session

import (
	"context"
	"time"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
)

// minRenewDelay keeps a nearly expired credential from spinning the renewer.
const minRenewDelay = 5 * time.Second

// renewer runs proactive renewal on a timer while a session is held.
type renewer struct {
	delay  func() time.Duration
	renew  func(ctx context.Context) error
	logger *logging.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func startRenewer(delay func() time.Duration, renew func(context.Context) error, logger *logging.Logger) *renewer {
	ctx, cancel := context.WithCancel(context.Background())
	r := &renewer{
		delay:  delay,
		renew:  renew,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.run(ctx)
	return r
}

func (r *renewer) run(ctx context.Context) {
	defer close(r.done)

	timer := time.NewTimer(r.delay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// Best effort: the reactive path handles whatever this misses.
			if err := r.renew(ctx); err != nil && ctx.Err() == nil {
				r.logger.Debug("proactive renewal failed", "error", err)
			}
			timer.Reset(r.delay())
		}
	}
}

// stop cancels the timer and waits for the loop to exit.
func (r *renewer) stop() {
	r.cancel()
	<-r.done
}
