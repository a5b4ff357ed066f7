package interfaces

import "context"

// EventPublisher pushes domain events onto the event stream. Publishing
// happens after commit and never gates the unit of work.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}
