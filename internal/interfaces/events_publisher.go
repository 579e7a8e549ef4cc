package interfaces

import "context"

// EventPublisher ships domain events keyed by account so consumers see
// one account's events in order.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}
