package eventsink

import (
	"context"
	"sync/atomic"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/session"
)

// queue buffers events for a sink that delivers them from Run. Events
// arriving while the queue is full are dropped and counted.
type queue struct {
	events  chan session.Event
	deliver func(session.Event)
	logger  *logging.Logger
	dropped atomic.Int64
}

func newQueue(size int, logger *logging.Logger, deliver func(session.Event)) *queue {
	return &queue{
		events:  make(chan session.Event, size),
		deliver: deliver,
		logger:  logger,
	}
}

// HandleSessionEvent implements session.EventSink.
func (q *queue) HandleSessionEvent(e session.Event) {
	select {
	case q.events <- e:
	default:
		if q.dropped.Add(1) == 1 {
			q.logger.Warn("session event queue full, dropping events")
		}
	}
}

// Run delivers queued events until ctx is done, then makes one pass over
// what is still queued.
func (q *queue) Run(ctx context.Context) error {
	for {
		select {
		case e := <-q.events:
			q.deliver(e)
		case <-ctx.Done():
			q.drain()
			return nil
		}
	}
}

func (q *queue) drain() {
	for {
		select {
		case e := <-q.events:
			q.deliver(e)
		default:
			return
		}
	}
}

// Dropped returns the number of events lost to a full queue.
func (q *queue) Dropped() int64 {
	return q.dropped.Load()
}
