package eventbus

import "context"

type Consumer interface {
	Consume(ctx context.Context, event Event) error
	GetWorkerCount() int
}

// Publisher is the side of the bus that workflow stages depend on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
