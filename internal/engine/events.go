package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sheikh-saqib/allowance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/allowance-ledger/internal/models/events"
)

const (
	DefaultEventBuffer = 1024
	publishTimeout     = 10 * time.Second
)

type outgoing struct {
	ctx   context.Context
	key   string
	event events.LedgerEntryRecorded
}

// eventQueue hands committed events to the publisher off the caller's path.
// A single sender keeps events in commit order. When the buffer is full the
// event is dropped and logged; the ledger stays the record.
type eventQueue struct {
	publisher interfaces.EventPublisher
	log       zerolog.Logger

	ch     chan outgoing
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func newEventQueue(p interfaces.EventPublisher, size int, log zerolog.Logger) *eventQueue {
	q := &eventQueue{
		publisher: p,
		log:       log,
		ch:        make(chan outgoing, size),
		done:      make(chan struct{}),
	}
	go q.send()
	return q
}

// enqueue never blocks.
func (q *eventQueue) enqueue(ctx context.Context, key string, event events.LedgerEntryRecorded) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.log.Warn().Str("entry_id", event.EntryID).Msg("engine closed, ledger event not published")
		return
	}

	select {
	case q.ch <- outgoing{ctx: context.WithoutCancel(ctx), key: key, event: event}:
	default:
		q.log.Warn().Str("entry_id", event.EntryID).Msg("event queue full, ledger event dropped")
	}
}

func (q *eventQueue) send() {
	defer close(q.done)

	for out := range q.ch {
		ctx, cancel := context.WithTimeout(out.ctx, publishTimeout)
		err := q.publisher.Publish(ctx, out.key, out.event)
		cancel()
		if err != nil {
			q.log.Warn().Err(err).Str("entry_id", out.event.EntryID).Msg("failed to publish ledger event")
		}
	}
}

// close stops intake and waits for queued events to be sent.
func (q *eventQueue) close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
